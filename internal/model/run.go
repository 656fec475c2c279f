package model

import (
	"context"
	"errors"
	"fmt"
)

// Run runs m from prolog to epilog, num_steps steps in between. A done
// context stops the run at the next step boundary; the epilog still runs
// and the context's error is returned.
func Run(ctx context.Context, m Runnable) error {
	b := m.Model()
	if !b.hasNumSteps {
		return fmt.Errorf("Cannot perform run on (sub-)model '%s': %w", b.path, ErrNoNumSteps)
	}
	if err := Prolog(m); err != nil {
		return err
	}
	b.log.Info("running", "num_steps", b.numSteps)
	for b.time < b.numSteps {
		if err := ctx.Err(); err != nil {
			b.log.Warn("run cancelled", "time", b.time)
			return errors.Join(err, Epilog(m))
		}
		if err := Iterate(m); err != nil {
			if b.state == statePrologged {
				if eerr := Epilog(m); eerr != nil {
					b.log.Error("epilog after failed step", "err", eerr)
				}
			}
			return err
		}
	}
	if err := Epilog(m); err != nil {
		return err
	}
	b.log.Info("run finished", "time", b.time)
	return nil
}

// Prolog prepares m for stepping: it runs the model's own prolog hook,
// writes its parameters, writes and monitors the initial state, and starts
// the submodels that are iterated from the beginning. Submodels with
// run_in_parent_prolog are run to completion here.
func Prolog(m Runnable) error {
	b := m.Model()
	if b.state != stateFresh {
		return fmt.Errorf("Requesting to run prolog another time in model '%s': %w", b.path, ErrState)
	}
	if p, ok := m.(Prologer); ok {
		if err := p.Prolog(); err != nil {
			return fmt.Errorf("prolog of model '%s': %w", b.path, err)
		}
	}
	if r, ok := m.(ParameterReporter); ok {
		if err := r.Parameters().WriteTo(b.group); err != nil {
			return fmt.Errorf("writing parameters of model '%s': %w", b.path, err)
		}
	}
	b.state = statePrologged
	if b.IsRoot() {
		b.env.monitors.SetTime(b.time, b.numSteps)
		b.env.monitors.CheckTimer()
	}
	if err := b.writeData(m); err != nil {
		return err
	}
	b.monitorData(m)
	for _, c := range b.children {
		cb := c.Model()
		switch {
		case cb.runInParentProlog:
			if err := Run(context.Background(), c); err != nil {
				return err
			}
		case cb.startIterate == 0:
			if err := Prolog(c); err != nil {
				return err
			}
		}
	}
	if b.IsRoot() {
		if err := b.env.monitors.Emit(); err != nil {
			return err
		}
	}
	b.log.Debug("prolog done")
	return nil
}

// Iterate performs one step of m: the model's step, the time increment,
// monitoring and writing if due, and the ticks of the submodels whose
// window contains the new time.
func Iterate(m Runnable) error {
	b := m.Model()
	if b.state != statePrologged {
		return fmt.Errorf("%w: cannot iterate model '%s' in state %s", ErrState, b.path, b.state)
	}
	if b.IsRoot() {
		b.env.monitors.CheckTimer()
	}
	if err := m.PerformStep(); err != nil {
		return fmt.Errorf("model '%s' at time %d: %w", b.path, b.time+1, err)
	}
	b.time++
	b.monitorData(m)
	if err := b.writeData(m); err != nil {
		return err
	}
	for _, c := range b.children {
		if err := b.tick(c); err != nil {
			return err
		}
	}
	if b.IsRoot() {
		b.env.monitors.SetTime(b.time, b.numSteps)
		if err := b.env.monitors.Emit(); err != nil {
			return err
		}
	}
	return nil
}

// tick advances a child within its window [max(start_iterate, 1),
// stop_iterate] of parent times. The child's prolog runs at start_iterate,
// its epilog after the tick at stop_iterate.
func (b *Base) tick(c Runnable) error {
	cb := c.Model()
	t := b.time
	if cb.runInParentProlog || t < cb.startIterate || t > cb.stopIterate {
		return nil
	}
	if cb.state == stateFresh {
		if err := Prolog(c); err != nil {
			return err
		}
	}
	if cb.state != statePrologged {
		return nil
	}
	if err := Iterate(c); err != nil {
		return err
	}
	if t == cb.stopIterate {
		return Epilog(c)
	}
	return nil
}

// Epilog ends m: it runs the model's own epilog hook, ends the submodels
// that are still running and closes the model's datasets.
func Epilog(m Runnable) error {
	b := m.Model()
	switch b.state {
	case stateFresh:
		return fmt.Errorf("Requesting to run epilog before prolog in model '%s': %w", b.path, ErrState)
	case stateEpilogged:
		return fmt.Errorf("Requesting to run epilog another time in model '%s': %w", b.path, ErrState)
	}
	var errs []error
	if e, ok := m.(Epiloger); ok {
		if err := e.Epilog(); err != nil {
			errs = append(errs, fmt.Errorf("epilog of model '%s': %w", b.path, err))
		}
	}
	for _, c := range b.children {
		if c.Model().state == statePrologged {
			errs = append(errs, Epilog(c))
		}
	}
	if b.dm != nil {
		errs = append(errs, b.dm.Close())
	}
	for _, ds := range b.datasets {
		errs = append(errs, ds.Close())
	}
	b.datasets = nil
	b.state = stateEpilogged
	b.log.Debug("epilog done", "time", b.time)
	return errors.Join(errs...)
}

func (b *Base) writeData(m Runnable) error {
	if b.dm != nil {
		if err := b.dm.Emit(b); err != nil {
			return fmt.Errorf("model '%s': %w", b.path, err)
		}
	}
	if w, ok := m.(Writer); ok && b.WriteDue() {
		if err := w.WriteData(); err != nil {
			return fmt.Errorf("writing data of model '%s' at time %d: %w", b.path, b.time, err)
		}
	}
	return nil
}

func (b *Base) monitorData(m Runnable) {
	if !b.env.monitors.Due() {
		return
	}
	b.mon.SetEntry("time", b.time)
	if mm, ok := m.(Monitorer); ok {
		mm.MonitorModel(b.mon)
	}
}
