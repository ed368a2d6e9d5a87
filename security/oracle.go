package security

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/vinayprograms/agentdir/errors"
)

// DIDPrefix roots every directory DID.
const DIDPrefix = "did:agent:"

// Oracle verifies identity and signature claims on agent records and can
// sign payloads for a locally held key.
type Oracle struct {
	priv ed25519.PrivateKey
}

// NewOracle returns a verification-only oracle.
func NewOracle() *Oracle {
	return &Oracle{}
}

// NewSigningOracle returns an oracle that can also sign with priv.
func NewSigningOracle(priv ed25519.PrivateKey) *Oracle {
	return &Oracle{priv: priv}
}

// DeriveDID maps a hex-encoded public key to its DID form.
func DeriveDID(publicKeyHex string) string {
	sum := sha256.Sum256([]byte(publicKeyHex))
	return DIDPrefix + hex.EncodeToString(sum[:])
}

// DeriveLegacyID maps a hex-encoded public key to the short hash id form
// used before DIDs: the first 20 bytes of the key digest.
func DeriveLegacyID(publicKeyHex string) string {
	sum := sha256.Sum256([]byte(publicKeyHex))
	return hex.EncodeToString(sum[:20])
}

// MatchesIdentity reports whether agentID is one of the two identity forms
// derivable from the public key.
func (o *Oracle) MatchesIdentity(agentID, publicKeyHex string) bool {
	if strings.HasPrefix(agentID, DIDPrefix) {
		return agentID == DeriveDID(publicKeyHex)
	}
	return agentID == DeriveLegacyID(publicKeyHex)
}

// VerifySignature checks a detached hex signature over payload against a
// hex-encoded ed25519 public key.
func (o *Oracle) VerifySignature(payload []byte, signature, publicKeyHex string) error {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return errors.Security("malformed public key")
	}
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return errors.Security("malformed signature")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), payload, sig) {
		return errors.Security("signature verification failed")
	}
	return nil
}

// Sign produces a hex signature over payload with the oracle's key.
func (o *Oracle) Sign(payload []byte) (string, error) {
	if o.priv == nil {
		return "", errors.Security("oracle has no signing key")
	}
	return hex.EncodeToString(ed25519.Sign(o.priv, payload)), nil
}

// PublicKeyHex returns the hex form of the oracle's public key, or the
// empty string for a verification-only oracle.
func (o *Oracle) PublicKeyHex() string {
	if o.priv == nil {
		return ""
	}
	return hex.EncodeToString(o.priv.Public().(ed25519.PublicKey))
}
