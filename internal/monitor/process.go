package monitor

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats is the resource usage of the running process.
type ProcessStats struct {
	RSSBytes   uint64  `yaml:"rss_bytes"`
	CPUPercent float64 `yaml:"cpu_percent"`
	NumThreads int32   `yaml:"num_threads"`
}

type processProbe struct {
	p *process.Process
}

func newProcessProbe() (*processProbe, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &processProbe{p: p}, nil
}

func (pp *processProbe) read() (ProcessStats, error) {
	var s ProcessStats
	mem, err := pp.p.MemoryInfo()
	if err != nil {
		return s, err
	}
	s.RSSBytes = mem.RSS
	if s.CPUPercent, err = pp.p.CPUPercent(); err != nil {
		return s, err
	}
	if s.NumThreads, err = pp.p.NumThreads(); err != nil {
		return s, err
	}
	return s, nil
}
