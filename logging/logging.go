// Package logging builds the logrus loggers used by the command line tools.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultLevel is used when no level is configured.
const DefaultLevel = "INFO"

// ParseLevel parses OFF, ERROR, WARN, INFO, DEBUG or TRACE, ignoring case.
// off is true for OFF.
func ParseLevel(s string) (level logrus.Level, off bool, err error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OFF":
		return logrus.PanicLevel, true, nil
	case "ERROR":
		return logrus.ErrorLevel, false, nil
	case "WARN", "WARNING":
		return logrus.WarnLevel, false, nil
	case "INFO", "":
		return logrus.InfoLevel, false, nil
	case "DEBUG":
		return logrus.DebugLevel, false, nil
	case "TRACE":
		return logrus.TraceLevel, false, nil
	default:
		return 0, false, fmt.Errorf("unknown log level %q (want OFF, ERROR, WARN, INFO, DEBUG or TRACE)", s)
	}
}

// New returns a logger writing to out at the given level. OFF discards everything.
func New(level string, out io.Writer) (*logrus.Logger, error) {
	lvl, off, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if off {
		out = io.Discard
	}

	return &logrus.Logger{
		Out:   out,
		Hooks: make(logrus.LevelHooks),
		Level: lvl,
		Formatter: &logrus.TextFormatter{
			FullTimestamp: true,
		},
		ExitFunc: logrus.StandardLogger().ExitFunc,
	}, nil
}
