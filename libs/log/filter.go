package log

type filter struct {
	next  Logger
	level Level
}

var _ Logger = (*filter)(nil)

// NewFilter discards log messages below the given level.
func NewFilter(next Logger, level Level) Logger {
	return &filter{next: next, level: level}
}

func (l *filter) Debug(msg string, keyvals ...interface{}) {
	if l.level > LevelDebug {
		return
	}
	l.next.Debug(msg, keyvals...)
}

func (l *filter) Info(msg string, keyvals ...interface{}) {
	if l.level > LevelInfo {
		return
	}
	l.next.Info(msg, keyvals...)
}

func (l *filter) Error(msg string, keyvals ...interface{}) {
	l.next.Error(msg, keyvals...)
}

func (l *filter) With(keyvals ...interface{}) Logger {
	return &filter{next: l.next.With(keyvals...), level: l.level}
}
