package config

import (
	"time"

	"github.com/pkg/errors"
)

// Duration is a time.Duration that reads and writes as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	if v < 0 {
		return errors.Errorf("negative duration %q", text)
	}
	d.Duration = v
	return nil
}
