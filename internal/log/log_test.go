package log

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	for _, tc := range []struct {
		desc   string
		format string
		level  string
		want   *logrus.Logger
	}{
		{
			desc:   "json format with info level",
			format: "json",
			want: &logrus.Logger{
				Formatter: &logrus.JSONFormatter{TimestampFormat: LogTimestampFormat},
				Level:     logrus.InfoLevel,
			},
		},
		{
			desc:   "text format with info level",
			format: "text",
			want: &logrus.Logger{
				Formatter: &logrus.TextFormatter{TimestampFormat: LogTimestampFormat},
				Level:     logrus.InfoLevel,
			},
		},
		{
			desc: "empty format with info level",
			want: &logrus.Logger{
				Level: logrus.InfoLevel,
			},
		},
		{
			desc:   "text format with debug level",
			format: "text",
			level:  "debug",
			want: &logrus.Logger{
				Formatter: &logrus.TextFormatter{TimestampFormat: LogTimestampFormat},
				Level:     logrus.DebugLevel,
			},
		},
		{
			desc:   "text format with invalid level",
			format: "text",
			level:  "invalid-level",
			want: &logrus.Logger{
				Formatter: &logrus.TextFormatter{TimestampFormat: LogTimestampFormat},
				Level:     logrus.InfoLevel,
			},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			logger := &logrus.Logger{}
			Configure(logger, tc.format, tc.level)
			require.Equal(t, tc.want, logger)
		})
	}
}
