package client

import "time"

// AppStatus is the status of one supervised app as reported by the daemon.
type AppStatus struct {
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	PID           int       `json:"pid"`
	Restarts      int       `json:"restarts"`
	UptimeMS      int64     `json:"uptime_ms"`
	LastExitCode  int       `json:"last_exit_code"`
	LastError     string    `json:"last_error,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	StoppedAt     time.Time `json:"stopped_at,omitempty"`
	LastRestartAt time.Time `json:"last_restart_at,omitempty"`
	Warnings      []string  `json:"warnings,omitempty"`
	CPUPercent    *float64  `json:"cpu_percent,omitempty"`
	MemoryRSS     *uint64   `json:"memory_rss_bytes,omitempty"`
}

// Uptime returns the uptime as a duration.
func (s AppStatus) Uptime() time.Duration {
	return time.Duration(s.UptimeMS) * time.Millisecond
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
