// Package config reads the driver's settings from harness properties.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Properties are the string key/value pairs a harness hands to a driver.
type Properties map[string]string

func (p Properties) lookup(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p Properties) String(key, def string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return def
}

func (p Properties) Int(key string, def int) (int, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func (p Properties) Float32(key string, def float32) (float32, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return float32(f), nil
}

// Duration accepts a Go duration ("250ms") or a bare number of milliseconds.
func (p Properties) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func (p Properties) Bool(key string, def bool) (bool, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

// Merge returns a copy of p overlaid with other.
func (p Properties) Merge(other Properties) Properties {
	out := make(Properties, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
