// Package cache holds the authoritative in-memory view of every known
// device, a bounded per-property value history, and a change stream
// consumers subscribe to.
//
// The cache is the single writer's view of truth: the dispatcher applies
// transport events here before anything else sees them, so a reader that
// queries the cache after observing a change on the stream always sees a
// state at least as new as that change.
//
// All reads return deep copies. Mutation and change emission happen
// under one lock, so the stream order matches the mutation order.
package cache
