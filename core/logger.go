package core

// Logger logs messages to stdout and, when enabled, to an error tracking service.
// expected args fmt: error, map[string]interface{}, Actor
type Logger interface {
	Enable(enabled bool)
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
