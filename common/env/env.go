// Package env reads typed configuration values from process environment
// variables, falling back to a caller-supplied default when unset or unparsable.
package env

import (
	"os"
	"strconv"
)

// String returns the environment variable's value, or def if unset.
func String(name string, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

// Int returns the environment variable parsed as an int, or def if unset or invalid.
func Int(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the environment variable parsed as a bool, or def if unset or invalid.
func Bool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Float64 returns the environment variable parsed as a float64, or def if unset or invalid.
func Float64(name string, def float64) float64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
