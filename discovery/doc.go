// Package discovery finds agents by capability.
//
// Discover intersects the directory's skill, protocol, and tag indexes,
// keeps healthy agents above the requested trust floor, and pages through
// the survivors newest first.
//
// Search layers ranking on top: query tokens collect per-field keyword
// weights, the sum is boosted by the agent's trust score, and a semantic
// index contributes similarity hits for descriptions that use different
// words than the query. Match reduces a search to the single agent worth
// invoking, or explains why none qualifies.
//
// Results are cached per query+filter combination and the whole cache is
// invalidated on any directory mutation.
package discovery
