package log

import (
	"io"

	kitlog "github.com/go-kit/log"
	kitlevel "github.com/go-kit/log/level"
	"github.com/go-kit/log/term"
)

const (
	msgKey   = "_msg" // "_" prefixed to avoid collisions
	levelKey = "level"
)

type imLogger struct {
	srcLogger kitlog.Logger
}

// Interface assertions
var _ Logger = (*imLogger)(nil)

// NewIMLogger returns a logger that encodes msg and keyvals to the Writer
// using go-kit's log as an underlying logger. Debug is rendered gray, errors
// red, everything else uses the terminal default.
func NewIMLogger(w io.Writer) Logger {
	colorFn := func(keyvals ...interface{}) term.FgBgColor {
		if len(keyvals) < 2 || keyvals[0] != kitlevel.Key() {
			return term.FgBgColor{}
		}

		var levelStr string
		if stringer, ok := keyvals[1].(interface{ String() string }); ok {
			levelStr = stringer.String()
		} else if strVal, ok := keyvals[1].(string); ok {
			levelStr = strVal
		} else {
			return term.FgBgColor{}
		}

		switch levelStr {
		case "debug":
			return term.FgBgColor{Fg: term.Gray}
		case "error":
			return term.FgBgColor{Fg: term.Red}
		default:
			return term.FgBgColor{}
		}
	}

	return &imLogger{term.NewLogger(w, kitlog.NewLogfmtLogger, colorFn)}
}

// Debug logs a message at level Debug.
func (l *imLogger) Debug(msg string, keyvals ...interface{}) {
	lWithLevel := kitlevel.Debug(l.srcLogger)

	if err := kitlog.With(lWithLevel, msgKey, msg).Log(keyvals...); err != nil {
		errLogger := kitlevel.Error(l.srcLogger)
		kitlog.With(errLogger, msgKey, msg).Log("err", err) //nolint:errcheck // no need to check error again
	}
}

// Info logs a message at level Info.
func (l *imLogger) Info(msg string, keyvals ...interface{}) {
	lWithLevel := kitlevel.Info(l.srcLogger)

	if err := kitlog.With(lWithLevel, msgKey, msg).Log(keyvals...); err != nil {
		errLogger := kitlevel.Error(l.srcLogger)
		kitlog.With(errLogger, msgKey, msg).Log("err", err) //nolint:errcheck // no need to check error again
	}
}

// Error logs a message at level Error.
func (l *imLogger) Error(msg string, keyvals ...interface{}) {
	lWithLevel := kitlevel.Error(l.srcLogger)

	lWithMsg := kitlog.With(lWithLevel, msgKey, msg)
	if err := lWithMsg.Log(keyvals...); err != nil {
		lWithMsg.Log("err", err) //nolint:errcheck // no need to check error again
	}
}

// With returns a new contextual logger with keyvals prepended to those passed
// to calls to Debug, Info or Error.
func (l *imLogger) With(keyvals ...interface{}) Logger {
	return &imLogger{kitlog.With(l.srcLogger, keyvals...)}
}
