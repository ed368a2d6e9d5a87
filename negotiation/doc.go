// Package negotiation manages task agreements between two agents.
//
// A session starts with the initiator's proposal and advances one round
// at a time: counter keeps it live, accept freezes the terms into a
// commitment, reject ends it. Every successful round slides the idle
// deadline forward; a round against an overdue session marks it expired
// and fails. Terminal sessions (agreed, rejected, expired) never accept
// another round.
package negotiation
