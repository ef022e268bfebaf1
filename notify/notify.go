// Package notify delivers best-effort user-facing notices. Callers must
// tolerate failure: a notice that does not show is never an error worth
// propagating.
package notify

import "log/slog"

type Notifier interface {
	Notify(title, message string) error
}

// Func adapts a plain function to the Notifier interface.
type Func func(title, message string) error

func (f Func) Notify(title, message string) error {
	return f(title, message)
}

// Slog writes notices to the structured log. It stands in where the host
// has no notification surface.
type Slog struct{}

func (Slog) Notify(title, message string) error {
	slog.Info("[notice] "+title, "message", message)
	return nil
}
