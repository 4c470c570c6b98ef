package challenge

import "time"

// SetNow overrides the manager clock from the external test package.
func (m *Manager) SetNow(now func() time.Time) { m.now = now }
