package publishers

// Logger is the logging surface sinks write delivery outcomes to.
type Logger interface {
	DebugObj(msg, key string, obj any)
	ErrorObj(msg, key string, obj any)
}

type noopLogger struct{}

func (noopLogger) DebugObj(string, string, any) {}
func (noopLogger) ErrorObj(string, string, any) {}

func ensureLogger(log Logger) Logger {
	if log == nil {
		return noopLogger{}
	}
	return log
}
