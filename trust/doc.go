// Package trust scores agents from their interaction history.
//
// Every agent starts at the neutral 0.5 and moves inside [0, 1] as
// weighted events arrive: successes and profile updates push up, failures,
// timeouts, and bad signatures push down hard. Three mechanisms keep the
// score honest:
//
//   - diversity dampening halves the weight of repeat positive events
//     from the same peer within an hour
//   - periodic decay moves idle scores back toward neutral, so neither
//     reputation nor infamy lasts forever
//   - a one-time referral bonus pays the referrer after the referred
//     agent's fifth success, attributed to a synthetic system source
//
// Scores live in the engine and are flushed to the directory every ten
// seconds when they have materially changed. Agents without live state
// are decayed analytically on read from their persisted score.
package trust
