// Package logging provides structured logging for rinLink.
//
// It wraps Go's standard log/slog package so every component logs in a
// consistent shape: JSON for production, text for development, with
// service and version fields attached to every entry.
//
// Components never import this package directly for their dependencies;
// they declare a minimal local Logger interface and accept anything that
// satisfies it (this package's Logger does).
package logging
