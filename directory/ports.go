package directory

// Store persists agent records. The directory writes through on every
// mutation and reads everything back once at startup.
type Store interface {
	Upsert(rec AgentRecord) error
	Delete(id string) error
	Load() ([]AgentRecord, error)
}

// TrustSink receives interaction events and serves refreshed scores. The
// directory calls it outside its own lock.
type TrustSink interface {
	RecordEvent(agentID, eventType, sourceID string)
	Score(agentID string) float64
}

// IdentityVerifier checks cryptographic claims attached to records.
type IdentityVerifier interface {
	// DeriveIdentity maps a public key to the agent id it authorizes.
	// Both the legacy hash form and the DID form must validate.
	MatchesIdentity(agentID, publicKey string) bool
	// VerifySignature checks a detached signature over a canonical payload.
	VerifySignature(payload []byte, signature, publicKey string) error
}
