package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Configure initializes the standard logrus logger.
// format is "text" or "json"; verbose forces the trace level.
func Configure(out io.Writer, level, format string, verbose bool) error {
	if out != nil {
		logrus.SetOutput(out)
	}

	switch format {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format: %s", format)
	}

	if verbose {
		logrus.SetLevel(logrus.TraceLevel)
		return nil
	}

	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(lvl)

	return nil
}
