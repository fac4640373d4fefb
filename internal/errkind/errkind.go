// Package errkind classifies the error taxonomy that flows between the
// upstream client, the evaluators, and the dispatcher. Errors are
// distinguished by kind rather than by a deep type hierarchy: each kind is
// a sentinel that call sites compare against with errors.Is, and every
// concrete error wraps its cause with fmt.Errorf("...: %w").
package errkind

import "errors"

var (
	// UpstreamTransient is retried locally up to 3 times; if still failing
	// the caller serves cached data and increments a stale_served counter.
	UpstreamTransient = errors.New("upstream: transient failure")

	// UpstreamPermanent is fatal for the affected fixture on this tick only.
	UpstreamPermanent = errors.New("upstream: permanent failure")

	// BudgetExceeded is back-pressure, not an error condition: the caller
	// skips the fetch and proceeds with cached data.
	BudgetExceeded = errors.New("upstream: budget exceeded")

	// NotFound means the upstream resource does not exist; never retried.
	NotFound = errors.New("upstream: not found")

	// AuthError is fatal and surfaced to the operator.
	AuthError = errors.New("upstream: authentication failed")

	// DataShape marks an upstream response with unparsable or contradictory
	// fields (e.g. non-monotone scores). The prior snapshot's affected
	// fields are preferred; no correction is synthesized.
	DataShape = errors.New("upstream: unexpected data shape")

	// UnsafeExpression marks a custom formula or alert expression that
	// contains a token outside its grammar.
	UnsafeExpression = errors.New("expression: unsafe")

	// UnknownVariable marks a formula referencing a metric not in the
	// closed variable set.
	UnknownVariable = errors.New("expression: unknown variable")

	// DivisionEdge is never returned as an error (division by zero yields
	// the tie-break value 0) but is named here so callers can distinguish
	// the edge case in logs without it propagating as a failure.
	DivisionEdge = errors.New("expression: division edge case")

	// ChannelPermanent disables a channel for the specific alert only.
	ChannelPermanent = errors.New("channel: permanent failure")

	// ChannelTransient is retried per the channel delivery backoff in
	// internal/channels.
	ChannelTransient = errors.New("channel: transient failure")

	// StorePersistenceFailure defers dispatch to preserve the
	// at-least-once trigger invariant while avoiding duplicate delivery.
	StorePersistenceFailure = errors.New("store: persistence failure")
)
