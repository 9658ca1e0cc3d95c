// Package events defines the scheduling events emitted on the event bus.
//
// Available event types:
//   - PassEvent: a pass of a cycle completed
//   - AbortEvent: running work was preempted by an urgent reservation
//   - SolverEvent: the solver returned a degraded outcome or failed
//   - NotifyEvent: a downstream command was acknowledged or failed
package events
