package monit

import "context"

// FakeReloader counts reloads, for tests.
type FakeReloader struct {
	Reloads int
	Err     error
}

var _ Reloader = (*FakeReloader)(nil)

// Reload implements Reloader.
func (f *FakeReloader) Reload(_ context.Context) error {
	f.Reloads++
	return f.Err
}
