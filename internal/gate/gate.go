// Package gate holds the process-wide calendar sync kill switch.
package gate

import "sync/atomic"

// Gate is checked before any mutating call to the external provider. It is
// an interface so tests and the admin API can swap the implementation.
type Gate interface {
	Enabled() bool
	SetEnabled(bool)
}

// Switch is the standard Gate: a single process-wide boolean, enabled by
// default, toggleable at runtime. It is not persisted across restarts, and a
// toggle takes effect for the next sync invocation with no draining of
// in-flight calls.
type Switch struct {
	disabled atomic.Bool
}

func NewSwitch() *Switch {
	return &Switch{}
}

func (s *Switch) Enabled() bool {
	return !s.disabled.Load()
}

func (s *Switch) SetEnabled(enabled bool) {
	s.disabled.Store(!enabled)
}
