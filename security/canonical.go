package security

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Fields assigned by the directory after registration. They are stripped
// before signing so the agent's signature stays valid across server-side
// mutation.
var volatileFields = []string{
	"signature",
	"manifest_signature",
	"trust_score",
	"claim_code",
	"owner_id",
	"species_id",
	"health_status",
	"last_heartbeat",
	"last_health_check",
	"created_at",
	"updated_at",
	"referral_paid",
}

// CanonicalManifest renders v as RFC 8785 canonical JSON with the
// directory-assigned fields removed. Both signer and verifier derive the
// signed payload through this function.
func CanonicalManifest(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	for _, f := range volatileFields {
		delete(m, f)
	}

	data, err = json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode stripped manifest: %w", err)
	}
	return jcs.Transform(data)
}
