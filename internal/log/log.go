package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

const (
	// LogTimestampFormat defines the timestamp format in log files.
	LogTimestampFormat = "2006-01-02T15:04:05.000Z"
)

var defaultLogger = logrus.StandardLogger()

func init() {
	// Log statements that occur before config is loaded still go to
	// stdout rather than stderr.
	defaultLogger.Out = os.Stdout
}

// Configure sets the format and level on logger and makes it the logger
// Default() returns entries from.
func Configure(logger *logrus.Logger, format string, level string) {
	var formatter logrus.Formatter
	switch format {
	case "json":
		formatter = &logrus.JSONFormatter{TimestampFormat: LogTimestampFormat}
	case "text":
		formatter = &logrus.TextFormatter{TimestampFormat: LogTimestampFormat}
	case "":
		// Just stick with the default
	default:
		logrus.WithField("format", format).Fatal("invalid logger format")
	}

	logrusLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logrusLevel = logrus.InfoLevel
	}
	logger.SetLevel(logrusLevel)

	if formatter != nil {
		logger.Formatter = formatter
	}

	defaultLogger = logger
}

// Default is the default logrus logger, tagged with the process ID so
// log lines from concurrent daemons can be told apart.
func Default() *logrus.Entry { return defaultLogger.WithField("pid", os.Getpid()) }
