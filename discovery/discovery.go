package discovery

import (
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vinayprograms/agentdir/directory"
	"github.com/vinayprograms/agentdir/logging"
)

// DirectoryPort is the read slice of the directory the engine needs.
type DirectoryPort interface {
	Get(id string) (directory.AgentRecord, bool)
	Snapshot() []directory.AgentRecord
	IDsBySkill(skill string) map[string]struct{}
	IDsByProtocol(p directory.Protocol) map[string]struct{}
	IDsByTag(tag string) map[string]struct{}
}

// TrustSource serves current trust scores.
type TrustSource interface {
	Score(agentID string) float64
}

// Filter narrows discovery results. Zero-valued fields do not filter.
type Filter struct {
	Skills   []string           `json:"skills,omitempty"`
	Protocol directory.Protocol `json:"protocol,omitempty"`
	Tags     []string           `json:"tags,omitempty"`
	MinTrust float64            `json:"min_trust,omitempty"`

	// IncludeUnhealthy keeps agents that are not currently healthy.
	// Off by default: discovery only returns agents believed alive.
	IncludeUnhealthy bool `json:"include_unhealthy,omitempty"`
}

// Config holds engine construction options.
type Config struct {
	Directory DirectoryPort
	Trust     TrustSource
	Semantic  SemanticIndex
	Logger    *logging.Logger

	// CacheSize bounds the search result cache. Default 256 entries.
	CacheSize int
}

// Engine answers discovery and search queries over the directory.
//
// Results are cached per query+filter combination; the cache is dropped
// wholesale whenever the directory mutates. Invalidation is coarse on
// purpose: mutations are rare next to queries.
type Engine struct {
	dir      DirectoryPort
	trust    TrustSource
	semantic SemanticIndex
	log      *logging.Logger

	cache *lru.Cache[string, []SearchResult]
}

// NewEngine builds a discovery engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	cache, err := lru.New[string, []SearchResult](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		dir:      cfg.Directory,
		trust:    cfg.Trust,
		semantic: cfg.Semantic,
		log:      cfg.Logger.WithComponent("discovery"),
		cache:    cache,
	}, nil
}

// InvalidateCache drops all cached results. Wire it to the directory's
// mutation hook.
func (e *Engine) InvalidateCache() {
	e.cache.Purge()
}

// Discover filters the directory and returns records newest first.
func (e *Engine) Discover(f Filter, skip, limit int) []directory.AgentRecord {
	ids := e.candidates(f)
	if ids == nil {
		return nil
	}

	recs := make([]directory.AgentRecord, 0, len(ids))
	for id := range ids {
		rec, ok := e.dir.Get(id)
		if !ok {
			continue
		}
		if e.passes(rec, f) {
			recs = append(recs, rec)
		}
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
	})

	if skip >= len(recs) {
		return nil
	}
	recs = recs[skip:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}

// candidates intersects the index sets named by the filter. An absent
// filter dimension contributes the full population. Returns nil when any
// named dimension is empty, since the intersection can only be empty.
func (e *Engine) candidates(f Filter) map[string]struct{} {
	var sets []map[string]struct{}

	for _, skill := range f.Skills {
		sets = append(sets, e.dir.IDsBySkill(skill))
	}
	if f.Protocol != "" {
		sets = append(sets, e.dir.IDsByProtocol(f.Protocol))
	}
	for _, tag := range f.Tags {
		sets = append(sets, e.dir.IDsByTag(tag))
	}

	if len(sets) == 0 {
		all := make(map[string]struct{})
		for _, rec := range e.dir.Snapshot() {
			all[rec.ID] = struct{}{}
		}
		return all
	}

	// Intersect starting from the smallest set.
	sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })
	out := sets[0]
	for _, set := range sets[1:] {
		for id := range out {
			if _, ok := set[id]; !ok {
				delete(out, id)
			}
		}
		if len(out) == 0 {
			return nil
		}
	}
	return out
}

// passes applies the non-index filter dimensions.
func (e *Engine) passes(rec directory.AgentRecord, f Filter) bool {
	if !f.IncludeUnhealthy && rec.HealthStatus != directory.HealthHealthy {
		return false
	}
	if f.MinTrust > 0 && e.score(rec.ID) < f.MinTrust {
		return false
	}
	return true
}

func (e *Engine) score(agentID string) float64 {
	if e.trust == nil {
		return 0.5
	}
	return e.trust.Score(agentID)
}

// cacheKey renders a query+filter combination into a stable string.
func cacheKey(query string, f Filter, limit int) string {
	return fmt.Sprintf("%s|%s|%s|%s|%.4f|%t|%d",
		query,
		strings.Join(f.Skills, ","),
		f.Protocol,
		strings.Join(f.Tags, ","),
		f.MinTrust,
		f.IncludeUnhealthy,
		limit,
	)
}
