// Package device defines the rinLink device model.
//
// A Device carries identity, classification, transport ownership, and a
// map of typed Properties. Property values are a tagged variant (Value)
// rather than interface{}, so consumers pattern-match on the kind instead
// of runtime casting.
//
// The state cache (internal/cache) exclusively owns live Device instances;
// everything else works with deep copies.
package device
