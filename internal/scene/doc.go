// Package scene implements trigger-driven automation: a scene pairs a
// set of conjunctive triggers with an ordered list of device actions.
//
// The engine is push driven. It subscribes to the state cache's change
// stream, debounces bursts, and re-evaluates every active scene against
// a cache snapshot. A scene fires on the transition from unsatisfied to
// satisfied, so a condition that simply keeps holding does not re-fire
// the scene on every report.
//
// Actions run in order. An action's delay defers the remaining actions
// without blocking the engine; each execution runs in its own
// goroutine. Bookkeeping (last execution time, counter) is updated
// exactly once per execution, after the actions have been dispatched.
package scene
