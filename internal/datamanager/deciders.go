package datamanager

import (
	"fmt"
	"math"

	"gridsim/internal/config"
)

// Decider decides whether something happens at the source's current time.
// Deciders control writing, triggers (same interface) control dataset
// creation.
type Decider interface {
	Decide(src Source) bool
}

// Func adapts a function to a Decider.
type Func func(src Source) bool

func (f Func) Decide(src Source) bool { return f(src) }

// Always fires on every call.
type Always struct{}

// Never fires on no call.
type Never struct{}

func (Always) Decide(Source) bool { return true }
func (Never) Decide(Source) bool  { return false }

// Once fires when the time equals Time.
type Once struct {
	Time uint64
}

func (o Once) Decide(src Source) bool { return src.Time() == o.Time }

// NoStop is the Stop of an Every without an end.
const NoStop = math.MaxUint64

// Every fires at Start, Start+Step, ... while the time is below Stop.
type Every struct {
	Start, Step, Stop uint64
}

// NewEvery returns an Every without an end.
func NewEvery(start, step uint64) Every {
	return Every{Start: start, Step: max(step, 1), Stop: NoStop}
}

func (e Every) Decide(src Source) bool {
	t := src.Time()
	if t < e.Start || t >= e.Stop {
		return false
	}
	return (t-e.Start)%max(e.Step, 1) == 0
}

// Intervals fires within any of a list of [start, stop) intervals, each
// with an optional step.
type Intervals []Every

func (iv Intervals) Decide(src Source) bool {
	for _, e := range iv {
		if e.Decide(src) {
			return true
		}
	}
	return false
}

// Defaults carries the model's write cadence used by the "default" decider
// type.
type Defaults struct {
	WriteStart uint64
	WriteEvery uint64
}

// DeciderFromConfig builds a decider from a {type, args} node.
//
//	type: always | never | default
//	type: once       args: {time: 10}
//	type: interval   args: {start: 0, step: 5, stop: 100}
//	type: intervals  args: {intervals: [[0, 10], [50, 100, 5]]}
func DeciderFromConfig(n config.Node, d Defaults) (Decider, error) {
	typ, err := config.Get[string](n, "type")
	if err != nil {
		return nil, err
	}
	args := n.Sub("args")
	switch typ {
	case "always":
		return Always{}, nil
	case "never":
		return Never{}, nil
	case "default":
		return NewEvery(d.WriteStart, d.WriteEvery), nil
	case "once":
		t, err := config.GetOr(args, "time", d.WriteStart)
		if err != nil {
			return nil, err
		}
		return Once{Time: t}, nil
	case "interval":
		return intervalFromConfig(args, d)
	case "intervals":
		var raw [][]uint64
		raw, err = config.Get[[][]uint64](args, "intervals")
		if err != nil {
			return nil, err
		}
		iv := make(Intervals, len(raw))
		for i, r := range raw {
			switch len(r) {
			case 2:
				iv[i] = Every{Start: r[0], Step: 1, Stop: r[1]}
			case 3:
				iv[i] = Every{Start: r[0], Step: max(r[2], 1), Stop: r[1]}
			default:
				return nil, fmt.Errorf("%w '%s.args.intervals': interval %d needs [start, stop] or [start, stop, step], got %v",
					config.ErrInvalid, n.Path(), i, r)
			}
		}
		return iv, nil
	}
	return nil, fmt.Errorf("%w '%s.type': unknown decider type %q (valid: always, never, default, once, interval, intervals)",
		config.ErrInvalid, n.Path(), typ)
}

func intervalFromConfig(args config.Node, d Defaults) (Decider, error) {
	start, err := config.GetOr(args, "start", d.WriteStart)
	if err != nil {
		return nil, err
	}
	step, err := config.GetOr(args, "step", d.WriteEvery)
	if err != nil {
		return nil, err
	}
	stop, err := config.GetOr(args, "stop", uint64(NoStop))
	if err != nil {
		return nil, err
	}
	if step == 0 {
		return nil, fmt.Errorf("%w '%s.step': must be at least 1", config.ErrInvalid, args.Path())
	}
	return Every{Start: start, Step: step, Stop: stop}, nil
}
