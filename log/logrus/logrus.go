// Package logrus adapts sirupsen/logrus to querysync.Logger.
package logrus

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/querysync"
)

var _ querysync.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New builds a logger writing to w. format "json" selects the JSON
// formatter, anything else the text formatter.
func New(w io.Writer, level, format string) (Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return Logger{}, err
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(lvl)
	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	}
	return Logger{E: logrus.NewEntry(l)}, nil
}

func (l Logger) Debug(msg string, f querysync.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f querysync.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f querysync.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f querysync.Fields) { l.with(f).Error(msg) }

// with maps an "err" field onto logrus' error key.
func (l Logger) with(f querysync.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			lf[logrus.ErrorKey] = err
			continue
		}
		lf[k] = v
	}
	return l.E.WithFields(lf)
}
