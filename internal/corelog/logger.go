// Package corelog gives every core component a small logging interface
// backed by logrus, mirroring the teacher pack's elog.Logger shape
// (Debugf/Infof/Warnf/Errorf plus an enablement check) so call sites never
// depend on logrus directly.
package corelog

import (
	"code.cloudfoundry.org/bytefmt"
	"github.com/sirupsen/logrus"
)

// Logger is the subset of logging behavior every internal package needs.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	IsDebugEnabled() bool
	WithField(key string, value interface{}) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New builds a Logger scoped to component, e.g. New("wal") or New("tree").
func New(component string) Logger {
	return &logrusLogger{entry: logrus.WithField("component", component)}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) IsDebugEnabled() bool {
	return logrus.GetLevel() >= logrus.DebugLevel
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

// SizeField renders a byte count in human-readable form, e.g. "3.2M".
// Nothing in the core or the CLI calls it.
func SizeField(n uint64) string {
	return bytefmt.ByteSize(n)
}

// SetLevel adjusts global verbosity; used by cmd/nfsmount's --debug flag.
func SetLevel(debug bool) {
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}
