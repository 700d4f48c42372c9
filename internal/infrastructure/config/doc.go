// Package config loads and validates rinLink configuration.
//
// Configuration is read from a YAML file, merged over built-in defaults,
// and finally overridden by RINLINK_* environment variables. The loaded
// Config is passed explicitly to every component at startup; there is no
// package-level configuration state.
package config
