package core

// Logger is any service that can log and report application events.
// args may contain errors, maps of extras, and at most one Person (the user behind the request).
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Person identifies the authenticated caller attached to a log entry.
type Person struct {
	ID    string
	Email string
}
