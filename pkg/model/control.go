package model

import "time"

// DefaultInterval is the poll interval of the update engine
const DefaultInterval = 5 * time.Second

// Control is the shared control state of the background updater. It is
// written by management commands and read by the daemon at cycle boundaries.
type Control struct {
	Paused    bool          `yaml:"paused"`
	Interval  time.Duration `yaml:"interval,omitempty"`
	Heartbeat time.Time     `yaml:"heartbeat,omitempty"`
	PID       int           `yaml:"pid,omitempty"`
}

// EffectiveInterval returns Interval, or DefaultInterval when unset
func (c *Control) EffectiveInterval() time.Duration {
	if c == nil || c.Interval <= 0 {
		return DefaultInterval
	}
	return c.Interval
}

// Alive reports whether the daemon heartbeat is recent enough
func (c *Control) Alive(now time.Time) bool {
	if c == nil || c.Heartbeat.IsZero() {
		return false
	}
	return now.Sub(c.Heartbeat) < 3*c.EffectiveInterval()
}

// Status summarizes the memory subsystem for management commands
type Status struct {
	Active       bool          `json:"active"`
	Paused       bool          `json:"paused"`
	LastUpdateAt *time.Time    `json:"last_update_at,omitempty"`
	Checkpoint   EntryID       `json:"checkpoint"`
	Interval     time.Duration `json:"interval"`
	ProfileSize  int           `json:"profile_size"`
}
