package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/vinayprograms/agentdir/errors"
)

func newKeyPair(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return hex.EncodeToString(pub), priv
}

func TestDeriveDID(t *testing.T) {
	pubHex, _ := newKeyPair(t)

	did := DeriveDID(pubHex)
	if !strings.HasPrefix(did, DIDPrefix) {
		t.Fatalf("DID %q missing prefix", did)
	}
	if len(did) != len(DIDPrefix)+64 {
		t.Errorf("DID digest length = %d, want 64", len(did)-len(DIDPrefix))
	}
	// Deterministic.
	if DeriveDID(pubHex) != did {
		t.Error("DeriveDID not deterministic")
	}
}

func TestDeriveLegacyID(t *testing.T) {
	pubHex, _ := newKeyPair(t)

	id := DeriveLegacyID(pubHex)
	if len(id) != 40 {
		t.Errorf("legacy id length = %d, want 40", len(id))
	}
	// The legacy id is a prefix of the DID digest.
	if !strings.HasPrefix(strings.TrimPrefix(DeriveDID(pubHex), DIDPrefix), id) {
		t.Error("legacy id is not a prefix of the DID digest")
	}
}

func TestMatchesIdentity(t *testing.T) {
	pubHex, _ := newKeyPair(t)
	otherHex, _ := newKeyPair(t)
	o := NewOracle()

	if !o.MatchesIdentity(DeriveDID(pubHex), pubHex) {
		t.Error("DID form rejected")
	}
	if !o.MatchesIdentity(DeriveLegacyID(pubHex), pubHex) {
		t.Error("legacy form rejected")
	}
	if o.MatchesIdentity(DeriveDID(pubHex), otherHex) {
		t.Error("DID accepted for wrong key")
	}
	if o.MatchesIdentity("agent-1", pubHex) {
		t.Error("arbitrary id accepted")
	}
}

func TestSignVerify(t *testing.T) {
	pubHex, priv := newKeyPair(t)
	o := NewSigningOracle(priv)

	payload := []byte(`{"id":"a1","name":"sample"}`)
	sig, err := o.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := o.VerifySignature(payload, sig, pubHex); err != nil {
		t.Errorf("VerifySignature: %v", err)
	}
	if err := o.VerifySignature([]byte("tampered"), sig, pubHex); err == nil {
		t.Error("tampered payload verified")
	} else if !errors.Is(err, errors.ErrCodeSecurity) {
		t.Errorf("error code = %v, want SECURITY", err)
	}
}

func TestVerifySignature_Malformed(t *testing.T) {
	pubHex, _ := newKeyPair(t)
	o := NewOracle()

	if err := o.VerifySignature([]byte("x"), "not-hex", pubHex); err == nil {
		t.Error("malformed signature accepted")
	}
	if err := o.VerifySignature([]byte("x"), strings.Repeat("ab", 64), "short"); err == nil {
		t.Error("malformed public key accepted")
	}
}

func TestSign_NoKey(t *testing.T) {
	o := NewOracle()
	if _, err := o.Sign([]byte("x")); err == nil {
		t.Error("Sign without key succeeded")
	}
}

func TestCanonicalManifest(t *testing.T) {
	type manifest struct {
		ID         string  `json:"id"`
		Name       string  `json:"name"`
		Signature  string  `json:"signature,omitempty"`
		TrustScore float64 `json:"trust_score,omitempty"`
	}

	a, err := CanonicalManifest(manifest{ID: "a1", Name: "sample"})
	if err != nil {
		t.Fatalf("CanonicalManifest: %v", err)
	}
	b, err := CanonicalManifest(manifest{ID: "a1", Name: "sample", Signature: "deadbeef", TrustScore: 0.9})
	if err != nil {
		t.Fatalf("CanonicalManifest: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("volatile fields leaked into canonical form:\n%s\n%s", a, b)
	}
}

func TestCanonicalManifest_SignatureStable(t *testing.T) {
	pubHex, priv := newKeyPair(t)
	o := NewSigningOracle(priv)

	type manifest struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		ClaimCode string `json:"claim_code,omitempty"`
	}

	signed, err := CanonicalManifest(manifest{ID: "a1", Name: "sample"})
	if err != nil {
		t.Fatalf("CanonicalManifest: %v", err)
	}
	sig, err := o.Sign(signed)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// The directory later assigns a claim code; the signature must survive.
	after, err := CanonicalManifest(manifest{ID: "a1", Name: "sample", ClaimCode: "AAAA-BBBB"})
	if err != nil {
		t.Fatalf("CanonicalManifest: %v", err)
	}
	if err := o.VerifySignature(after, sig, pubHex); err != nil {
		t.Errorf("signature broke after server-side mutation: %v", err)
	}
}
