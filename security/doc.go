// Package security implements identity derivation and signature checks
// for agent records.
//
// An agent's id is bound to its ed25519 public key in one of two forms:
// the DID form ("did:agent:" plus the full key digest) or the legacy short
// hash form. The Oracle validates both, and verifies detached signatures
// over the RFC 8785 canonical manifest produced by CanonicalManifest.
package security
