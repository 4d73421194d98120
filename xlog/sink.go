package xlog

import "github.com/sirupsen/logrus"

// Sink receives every record written to a Journal, live, in addition to the
// journal's own bounded ring-buffer retention.
type Sink interface {
	Log(severity Severity, file string, line int, message string)
}

// LogrusSink forwards journal records to a logrus.FieldLogger, the
// structured logging library the rest of this corpus's lineage (rclone)
// depends on for ambient logging.
type LogrusSink struct {
	Logger logrus.FieldLogger
}

// NewLogrusSink returns a Sink writing to logger, or to logrus.StandardLogger
// if logger is nil.
func NewLogrusSink(logger logrus.FieldLogger) *LogrusSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusSink{Logger: logger}
}

func (s *LogrusSink) Log(severity Severity, file string, line int, message string) {
	entry := s.Logger.WithField("file", file).WithField("line", line)
	switch severity {
	case SeverityFatal:
		entry.Error(message) // never call logrus Fatal from a library: it calls os.Exit
	case SeverityError:
		entry.Error(message)
	case SeverityWarn:
		entry.Warn(message)
	case SeverityInfo:
		entry.Info(message)
	case SeverityDebug:
		entry.Debug(message)
	case SeverityTrace:
		entry.Trace(message)
	}
}

var _ Sink = (*LogrusSink)(nil)
