package registration

import "sync/atomic"

// Switch is the process-wide registration toggle. Every operation reads it first.
type Switch struct {
	enabled atomic.Bool
}

func NewSwitch(enabled bool) *Switch {
	s := &Switch{}
	s.enabled.Store(enabled)
	return s
}

func (s *Switch) Enabled() bool { return s.enabled.Load() }
func (s *Switch) Enable()       { s.enabled.Store(true) }
func (s *Switch) Disable()      { s.enabled.Store(false) }
