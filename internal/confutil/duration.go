// Package confutil holds small config value types shared across the
// replication engine's config packages.
package confutil

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so it can be expressed as a plain integer
// number of seconds in a TOML config file.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalText implements encoding.TextUnmarshaler so go-toml can decode
// either a bare integer (seconds) or a Go duration string ("5s", "1m").
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}

	var seconds int64
	if _, err := fmt.Sscanf(s, "%d", &seconds); err != nil {
		return fmt.Errorf("confutil: invalid duration %q: %w", s, err)
	}
	*d = Duration(time.Duration(seconds) * time.Second)
	return nil
}

// MarshalJSON renders the duration as its Go string form (e.g. "15s").
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

func (d Duration) String() string {
	return d.Duration().String()
}
