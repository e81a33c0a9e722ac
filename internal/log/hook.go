package log

import (
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
)

// NewHookLogger creates a file logger, for callers invoked synchronously
// as a git hook where stdout/stderr are echoed straight back to the git
// client and must stay free of log output.
func NewHookLogger(filepath string) (*logrus.Logger, error) {
	logger := logrus.New()

	logFile, err := os.OpenFile(filepath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	logger.SetOutput(logFile)

	runtime.SetFinalizer(logFile, func(f *os.File) {
		f.Close()
	})

	return logger, nil
}
