package safe

import "log/slog"

// Go runs f in a new goroutine and recovers any panic.
func Go(f func()) {
	go func() {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("[safe] go panic", "error", err)
			}
		}()

		f()
	}()
}

// Call invokes f in the current goroutine and recovers any panic.
// Used to isolate callbacks from their caller.
func Call(f func()) {
	defer func() {
		if err := recover(); err != nil {
			slog.Error("[safe] call panic", "error", err)
		}
	}()

	f()
}
