package systemd

import "context"

// FakeSupervisor counts reloads, for tests.
type FakeSupervisor struct {
	Reloads int
	Err     error
}

var _ Supervisor = (*FakeSupervisor)(nil)

// Reload implements Supervisor.
func (f *FakeSupervisor) Reload(_ context.Context) error {
	f.Reloads++
	return f.Err
}
