package config

import (
	"fmt"
	"strings"
	"time"
)

// durationField describes a duration-valued config key. Empty means def;
// zero max means unbounded.
type durationField struct {
	key      string
	def      time.Duration
	min, max time.Duration
}

var (
	readTimeoutField = durationField{key: "serial.read_timeout", def: time.Second, min: time.Millisecond, max: time.Minute}
	tickField        = durationField{key: "dispatcher.tick", def: time.Second, min: 10 * time.Millisecond, max: time.Minute}
	busyTimeoutField = durationField{key: "storage.busy_timeout"}
)

func (f durationField) parse(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return f.def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", f.key, raw)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative", f.key)
	case d < f.min:
		return 0, fmt.Errorf("%s: %s is below the minimum %s", f.key, d, f.min)
	case f.max > 0 && d > f.max:
		return 0, fmt.Errorf("%s: %s exceeds the maximum %s", f.key, d, f.max)
	}
	return d, nil
}
