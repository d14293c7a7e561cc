package process

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of a live process.
type Usage struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
}

// Sample reads resource usage for pid. It is best effort: fields that the
// platform cannot report are left zero.
func Sample(pid int) (Usage, error) {
	var u Usage
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return u, err
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		u.RSSBytes = mi.RSS
	}
	if c, err := p.CPUPercent(); err == nil {
		u.CPUPercent = c
	}
	if n, err := p.NumThreads(); err == nil {
		u.Threads = n
	}
	return u, nil
}
