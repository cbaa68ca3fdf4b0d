// Package logging holds the process-wide logrus logger. Components log
// through an entry tagged with their name, and every entry passes the
// redaction hook so configured secrets never reach the output.
package logging

import (
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Logger is what components log through.
type Logger = logrus.FieldLogger

// Setter changes the root logger.
type Setter func(*logrus.Logger) error

const redacted = "********"

var (
	mu     sync.Mutex
	root   = newRoot()
	secret = &redactHook{}
)

func newRoot() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(textFormatter())
	return l
}

func init() {
	root.AddHook(secret)
}

func textFormatter() logrus.Formatter {
	return &logrus.TextFormatter{FullTimestamp: true}
}

// New returns the logger for component.
func New(component string) Logger {
	return root.WithField("component", component)
}

// Set applies setters in order and stops at the first error.
func Set(setters ...Setter) error {
	mu.Lock()
	defer mu.Unlock()
	for _, s := range setters {
		if err := s(root); err != nil {
			return err
		}
	}
	return nil
}

// Level parses lvl, falling back to info on a bad value.
func Level(lvl string) Setter {
	l, err := logrus.ParseLevel(lvl)
	if err != nil {
		root.WithError(err).Errorf("unable to parse log level %q, using info", lvl)
		l = logrus.InfoLevel
	}
	return func(r *logrus.Logger) error {
		r.SetLevel(l)
		return nil
	}
}

// Format selects "text" (the default) or "json" output.
func Format(name string) Setter {
	return func(r *logrus.Logger) error {
		switch strings.ToLower(name) {
		case "", "text":
			r.SetFormatter(textFormatter())
		case "json":
			r.SetFormatter(&logrus.JSONFormatter{})
		default:
			return errors.Errorf("unknown log format %q", name)
		}
		return nil
	}
}

// Output redirects the root logger.
func Output(w io.Writer) Setter {
	return func(r *logrus.Logger) error {
		r.SetOutput(w)
		return nil
	}
}

// Redact replaces the set of values masked in messages and string fields.
// Empty values are ignored.
func Redact(values ...string) Setter {
	return func(*logrus.Logger) error {
		secret.set(values)
		return nil
	}
}

type redactHook struct {
	mu       sync.RWMutex
	replacer *strings.Replacer
}

func (h *redactHook) set(values []string) {
	var pairs []string
	for _, v := range values {
		if v != "" {
			pairs = append(pairs, v, redacted)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(pairs) == 0 {
		h.replacer = nil
		return
	}
	h.replacer = strings.NewReplacer(pairs...)
}

func (h *redactHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *redactHook) Fire(e *logrus.Entry) error {
	h.mu.RLock()
	r := h.replacer
	h.mu.RUnlock()
	if r == nil {
		return nil
	}

	e.Message = r.Replace(e.Message)
	for k, v := range e.Data {
		switch v := v.(type) {
		case string:
			e.Data[k] = r.Replace(v)
		case error:
			e.Data[k] = r.Replace(v.Error())
		}
	}
	return nil
}
