package mailbox

import "sync"

// Mailbox is a single-slot exchange of the operator setpoint. A new Set
// overwrites any value not yet taken.
type Mailbox struct {
	mu       sync.Mutex
	setpoint float64
	pending  bool
}

func New() *Mailbox {
	return &Mailbox{}
}

// Set stores v as the pending setpoint.
func (m *Mailbox) Set(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setpoint = v
	m.pending = true
}

// Take returns the pending setpoint and clears it. It returns nil when
// nothing is pending.
func (m *Mailbox) Take() *float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pending {
		return nil
	}
	m.pending = false

	v := m.setpoint
	return &v
}

// Current returns the last written setpoint and whether it is still pending.
func (m *Mailbox) Current() (setpoint float64, pending bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.setpoint, m.pending
}
