package directory

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/vinayprograms/agentdir/errors"
)

// Protocol identifies how an agent is reached by the invocation gateway.
type Protocol string

const (
	ProtocolA2A       Protocol = "a2a"
	ProtocolMCP       Protocol = "mcp"
	ProtocolHTTP      Protocol = "http"
	ProtocolGRPC      Protocol = "grpc"
	ProtocolWebSocket Protocol = "websocket"
	ProtocolRelay     Protocol = "relay"
	ProtocolCustom    Protocol = "custom"
)

// HealthStatus represents an agent's observed health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
	HealthOffline   HealthStatus = "offline"
)

// NATType classifies an agent's NAT situation. The directory stores it for
// the transport layer and never interprets it.
type NATType string

const (
	NATSymmetric          NATType = "symmetric"
	NATFullCone           NATType = "full_cone"
	NATRestrictedCone     NATType = "restricted_cone"
	NATPortRestrictedCone NATType = "port_restricted_cone"
	NATOpenInternet       NATType = "open_internet"
	NATUnknown            NATType = "unknown"
)

// NetworkProfile describes connectivity candidates for reaching an agent.
type NetworkProfile struct {
	NATType         NATType  `json:"nat_type,omitempty"`
	LocalEndpoints  []string `json:"local_endpoints,omitempty"`
	PublicEndpoints []string `json:"public_endpoints,omitempty"`
	P2PProtocols    []string `json:"p2p_protocols,omitempty"`
	RelayEndpoint   string   `json:"relay_endpoint,omitempty"`
}

// Skill is one capability an agent advertises. Names are unique per record.
type Skill struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// AgentRecord is one entry in the directory.
type AgentRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Skills      []Skill  `json:"skills"`
	Tags        []string `json:"tags,omitempty"`

	Endpoint string   `json:"endpoint"`
	Protocol Protocol `json:"protocol"`
	Provider string   `json:"provider,omitempty"`

	NetworkProfile NetworkProfile `json:"network_profile,omitempty"`

	HealthStatus    HealthStatus `json:"health_status"`
	LastHeartbeat   time.Time    `json:"last_heartbeat,omitempty"`
	LastHealthCheck time.Time    `json:"last_health_check,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`

	// Identity and provenance.
	PublicKey         string `json:"public_key,omitempty"`
	Signature         string `json:"signature,omitempty"`
	ManifestSignature string `json:"manifest_signature,omitempty"`

	// Ownership. Exactly one of OwnerID / ClaimCode is set at any time.
	OwnerID   string `json:"owner_id,omitempty"`
	ClaimCode string `json:"claim_code,omitempty"`
	SpeciesID string `json:"species_id,omitempty"`

	ReferrerID   string `json:"referrer_id,omitempty"`
	ReferralPaid bool   `json:"referral_paid,omitempty"`

	// Admission budget advertised by the agent itself.
	QPSBudget        float64 `json:"qps_budget,omitempty"`
	ConcurrencyLimit int     `json:"concurrency_limit,omitempty"`

	// VectorDesc overrides Description as the semantic-index text.
	VectorDesc string `json:"vector_desc,omitempty"`

	// TrustScore is nil until first computed; locally authoritative.
	TrustScore *float64 `json:"trust_score,omitempty"`
}

// Patch carries a field-by-field merge for Update. Nil fields are untouched.
// ID and CreatedAt are immutable and have no patch fields.
type Patch struct {
	Name        *string   `json:"name,omitempty"`
	Version     *string   `json:"version,omitempty"`
	Description *string   `json:"description,omitempty"`
	Skills      *[]Skill  `json:"skills,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`

	Endpoint *string   `json:"endpoint,omitempty"`
	Protocol *Protocol `json:"protocol,omitempty"`
	Provider *string   `json:"provider,omitempty"`

	NetworkProfile *NetworkProfile `json:"network_profile,omitempty"`

	PublicKey         *string `json:"public_key,omitempty"`
	Signature         *string `json:"signature,omitempty"`
	ManifestSignature *string `json:"manifest_signature,omitempty"`

	QPSBudget        *float64 `json:"qps_budget,omitempty"`
	ConcurrencyLimit *int     `json:"concurrency_limit,omitempty"`
	VectorDesc       *string  `json:"vector_desc,omitempty"`

	HealthStatus *HealthStatus `json:"health_status,omitempty"`
	ReferralPaid *bool         `json:"referral_paid,omitempty"`
}

// Clone returns a deep copy so callers can never alias directory state.
func (r AgentRecord) Clone() AgentRecord {
	out := r
	if r.Skills != nil {
		out.Skills = make([]Skill, len(r.Skills))
		for i, s := range r.Skills {
			out.Skills[i] = s
			if s.Tags != nil {
				out.Skills[i].Tags = append([]string(nil), s.Tags...)
			}
		}
	}
	if r.Tags != nil {
		out.Tags = append([]string(nil), r.Tags...)
	}
	out.NetworkProfile.LocalEndpoints = append([]string(nil), r.NetworkProfile.LocalEndpoints...)
	out.NetworkProfile.PublicEndpoints = append([]string(nil), r.NetworkProfile.PublicEndpoints...)
	out.NetworkProfile.P2PProtocols = append([]string(nil), r.NetworkProfile.P2PProtocols...)
	if r.TrustScore != nil {
		score := *r.TrustScore
		out.TrustScore = &score
	}
	return out
}

// SemanticText is the text the semantic index should embed for this record.
func (r AgentRecord) SemanticText() string {
	text := r.VectorDesc
	if text == "" {
		text = r.Description
	}
	if text == "" {
		text = r.Name
	}
	for _, s := range r.Skills {
		text += " " + s.Name + " " + s.Description
	}
	return text
}

// HasSkill reports whether the record advertises a skill by name.
func (r AgentRecord) HasSkill(name string) bool {
	for _, s := range r.Skills {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of a record supplied to Register.
func (r AgentRecord) Validate() error {
	if r.ID == "" {
		return errors.Validation("agent id required")
	}
	for _, c := range r.ID {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '_' || c == '-' || c == ':' {
			continue
		}
		return errors.Validation(fmt.Sprintf("agent id contains invalid character %q", c))
	}
	if len(r.Skills) == 0 {
		return errors.Validation("agent must have at least one skill", errors.WithAgentID(r.ID))
	}
	if r.Endpoint == "" {
		return errors.Validation("agent must include an endpoint", errors.WithAgentID(r.ID))
	}
	seen := make(map[string]bool, len(r.Skills))
	for _, s := range r.Skills {
		if s.Name == "" {
			return errors.Validation("skill name required", errors.WithAgentID(r.ID))
		}
		if seen[s.Name] {
			return errors.Validation(fmt.Sprintf("duplicate skill %q", s.Name), errors.WithAgentID(r.ID))
		}
		seen[s.Name] = true
	}
	return nil
}

// speciesSkill is the canonical shape hashed into the species id. Field
// order is fixed so the hash is deterministic.
type speciesSkill struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// SpeciesID returns the capability fingerprint: a sha256 over the skill set
// sorted by name. It is a pure function of the skills.
func SpeciesID(skills []Skill) string {
	canon := make([]speciesSkill, len(skills))
	for i, s := range skills {
		tags := append([]string(nil), s.Tags...)
		sort.Strings(tags)
		canon[i] = speciesSkill{Name: s.Name, Description: s.Description, Tags: tags}
	}
	sort.Slice(canon, func(i, j int) bool { return canon[i].Name < canon[j].Name })

	data, _ := json.Marshal(canon)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

const claimAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewClaimCode mints a single-use XXXX-XXXX human claim token.
func NewClaimCode() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		panic(err)
	}
	code := make([]byte, 9)
	for i, b := range buf {
		pos := i
		if i >= 4 {
			pos++
		}
		code[pos] = claimAlphabet[int(b)%len(claimAlphabet)]
	}
	code[4] = '-'
	return string(code)
}
