// ABOUTME: Runtime queue settings stored in the config table: key set, validation, typed view.
// ABOUTME: Only the four recognised keys exist; everything else is rejected before it reaches the store.
package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	KeyMaxRetries           = "max_retries"
	KeyExponentialBase      = "exponential_base"
	KeyWorkerCount          = "worker_count"
	KeyConcurrencyPerWorker = "concurrency_per_worker"
)

// Keys lists the recognised keys in display order.
var Keys = []string{KeyMaxRetries, KeyExponentialBase, KeyWorkerCount, KeyConcurrencyPerWorker}

var (
	ErrUnknownKey   = errors.New("unknown config key")
	ErrInvalidValue = errors.New("invalid config value")
)

// Settings is the typed view of the config table.
type Settings struct {
	MaxRetries           int
	ExponentialBase      float64
	WorkerCount          int
	ConcurrencyPerWorker int
}

// Defaults returns the values seeded by the initial migration.
func Defaults() Settings {
	return Settings{
		MaxRetries:           3,
		ExponentialBase:      2,
		WorkerCount:          1,
		ConcurrencyPerWorker: 3,
	}
}

// Entry is one config row.
type Entry struct {
	Key   string
	Value string
}

// IsKnown reports whether key is one of the recognised settings.
func IsKnown(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Validate checks key and value the way `config set` must before persisting.
func Validate(key, value string) error {
	if !IsKnown(key) {
		return fmt.Errorf("%w %q: must be one of %s", ErrUnknownKey, key, strings.Join(Keys, ", "))
	}
	switch key {
	case KeyExponentialBase:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || f < 1 {
			return fmt.Errorf("%w: %s must be a number >= 1", ErrInvalidValue, key)
		}
	default:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return fmt.Errorf("%w: %s must be a positive integer", ErrInvalidValue, key)
		}
	}
	return nil
}

// FromEntries builds Settings from raw rows. Missing, unknown or malformed
// entries leave the corresponding default in place.
func FromEntries(entries []Entry) Settings {
	s := Defaults()
	for _, e := range entries {
		if Validate(e.Key, e.Value) != nil {
			continue
		}
		v := strings.TrimSpace(e.Value)
		switch e.Key {
		case KeyMaxRetries:
			s.MaxRetries, _ = strconv.Atoi(v)
		case KeyExponentialBase:
			s.ExponentialBase, _ = strconv.ParseFloat(v, 64)
		case KeyWorkerCount:
			s.WorkerCount, _ = strconv.Atoi(v)
		case KeyConcurrencyPerWorker:
			s.ConcurrencyPerWorker, _ = strconv.Atoi(v)
		}
	}
	return s
}
