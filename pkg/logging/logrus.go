package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogFileSizeMB  = 10
	maxLogFileBackups = 3
	maxLogFileAgeDays = 28
)

// Logrus represents the logrus logger
type Logrus struct {
	level  string
	output io.Writer
}

// NewLogrus creates a new logrus instance
func NewLogrus(level string, output io.Writer) *Logrus {
	return &Logrus{level: level, output: output}
}

// Get returns a logrus instance based on the specific context
func (l *Logrus) Get(context string) *logrus.Entry {
	log := logrus.New()
	level, err := logrus.ParseLevel(l.level)
	if err != nil {
		level = logrus.WarnLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	log.SetOutput(l.output)
	logger := log.WithFields(logrus.Fields{
		"Context": context,
	})

	return logger
}

// LevelFromFlags maps the debug and verbose switches to a logrus level.
// Debug wins over verbose; with neither only warnings and errors are shown.
func LevelFromFlags(debug, verbose bool) string {
	switch {
	case debug:
		return logrus.DebugLevel.String()
	case verbose:
		return logrus.InfoLevel.String()
	default:
		return logrus.WarnLevel.String()
	}
}

// Output returns stderr, or a size-rotated file when filename is set.
func Output(filename string) io.Writer {
	if filename == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxLogFileSizeMB,
		MaxBackups: maxLogFileBackups,
		MaxAge:     maxLogFileAgeDays,
	}
}
