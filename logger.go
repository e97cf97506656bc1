package messagehub

// Logger is the printf-style sink every service, worker and adapter of the hub
// writes to. The worker binary backs it with a JSON slog handler; tests pass
// NoopLogger.
//
// Levels are used consistently across the hub:
//
//   - Debug: per-notification traffic such as appends, cursor commits and
//     conflict retries.
//   - Info: bundle lifecycle (assembled, dequeued, cleaned up) and worker
//     start/stop.
//   - Warn: domain refusals and reply timeouts, dropped announcements, failed
//     side notifications. The hub carries on.
//   - Error: storage or bus failures that abort the operation at hand.
//
// Arguments are preformatted identifiers (bundle ids, cabinet keys), so an
// adapter can forward fmt.Sprintf(format, args...) as the message:
//
//	type slogLogger struct{ l *slog.Logger }
//
//	func (s slogLogger) Warnf(format string, args ...interface{}) {
//	    s.l.Warn(fmt.Sprintf(format, args...))
//	}
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// Info logs a fixed message, typically a lifecycle event.
	Info(message string)
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (l *NoopLogger) Debugf(_ string, _ ...interface{}) {}
func (l *NoopLogger) Infof(_ string, _ ...interface{})  {}
func (l *NoopLogger) Warnf(_ string, _ ...interface{})  {}
func (l *NoopLogger) Errorf(_ string, _ ...interface{}) {}
func (l *NoopLogger) Info(_ string)                     {}
