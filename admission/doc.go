// Package admission gates expensive directory operations.
//
// Registration pays for itself with proof-of-work: the server mints a
// nonce, the agent finds a suffix whose sha256 digest carries enough
// leading zeros, and the solved challenge is consumed so it can never be
// replayed.
//
// Invocation is metered per agent by a fractional token bucket (QPS) and
// an in-flight ceiling (concurrency), checked atomically in that order.
// Rejections feed rate_limit trust events, so saturation shows up in an
// agent's score.
package admission
