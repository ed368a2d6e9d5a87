package admission

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/agentdir/errors"
)

// PoWConfig tunes the registration proof-of-work gate.
type PoWConfig struct {
	// Difficulty is the required number of leading zero hex digits in
	// sha256(nonce + solution). Default 4.
	Difficulty int

	// TTL is how long a challenge stays solvable. Default 60s.
	TTL time.Duration
}

// Challenge is one outstanding proof-of-work puzzle.
type Challenge struct {
	Nonce      string    `json:"nonce"`
	Difficulty int       `json:"difficulty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PoW issues and verifies registration challenges. A challenge is single
// use: verification consumes it, so a solved nonce cannot be replayed.
type PoW struct {
	mu         sync.Mutex
	issued     map[string]time.Time // nonce -> creation time
	difficulty int
	ttl        time.Duration

	nowFunc func() time.Time
}

// NewPoW creates a challenge manager.
func NewPoW(cfg PoWConfig) *PoW {
	if cfg.Difficulty <= 0 {
		cfg.Difficulty = 4
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	return &PoW{
		issued:     make(map[string]time.Time),
		difficulty: cfg.Difficulty,
		ttl:        cfg.TTL,
		nowFunc:    func() time.Time { return time.Now().UTC() },
	}
}

// NewChallenge mints a fresh challenge. Expired challenges are swept
// opportunistically here, so the issued set stays bounded by the TTL.
func (p *PoW) NewChallenge() Challenge {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	nonce := hex.EncodeToString(buf)

	p.mu.Lock()
	now := p.nowFunc()
	for n, created := range p.issued {
		if now.Sub(created) > p.ttl {
			delete(p.issued, n)
		}
	}
	p.issued[nonce] = now
	p.mu.Unlock()

	return Challenge{
		Nonce:      nonce,
		Difficulty: p.difficulty,
		ExpiresAt:  now.Add(p.ttl),
	}
}

// Verify checks a solution against an outstanding challenge and consumes
// the challenge on success. A wrong solution leaves the challenge live so
// the solver may keep trying until the TTL runs out.
func (p *PoW) Verify(nonce, solution string) error {
	p.mu.Lock()
	created, ok := p.issued[nonce]
	if !ok {
		p.mu.Unlock()
		return errors.PoWRequired("unknown or expired challenge")
	}
	if p.nowFunc().Sub(created) > p.ttl {
		delete(p.issued, nonce)
		p.mu.Unlock()
		return errors.PoWRequired("challenge expired")
	}
	p.mu.Unlock()

	if !solves(nonce, solution, p.difficulty) {
		return errors.PoWRequired("solution does not meet difficulty")
	}

	p.mu.Lock()
	delete(p.issued, nonce)
	p.mu.Unlock()
	return nil
}

// Outstanding reports how many unconsumed challenges exist.
func (p *PoW) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.issued)
}

// solves checks that sha256(nonce + solution) starts with the required
// number of zero hex digits.
func solves(nonce, solution string, difficulty int) bool {
	sum := sha256.Sum256([]byte(nonce + solution))
	digest := hex.EncodeToString(sum[:])
	return strings.HasPrefix(digest, strings.Repeat("0", difficulty))
}

// Solve brute-forces a solution for a challenge. Agents use it client
// side; tests use it to produce valid registrations.
func Solve(c Challenge) string {
	for i := 0; ; i++ {
		solution := "s" + hex.EncodeToString([]byte{byte(i >> 16), byte(i >> 8), byte(i)})
		if solves(c.Nonce, solution, c.Difficulty) {
			return solution
		}
	}
}
