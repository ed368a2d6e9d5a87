package discovery

import (
	"sort"
	"strings"

	"github.com/vinayprograms/agentdir/directory"
	"github.com/vinayprograms/agentdir/errors"
)

// Relative weights of the record fields a query token can hit.
const (
	weightName      = 1.0
	weightDesc      = 0.8
	weightSkillName = 0.9
	weightSkillDesc = 0.6
	weightTag       = 0.7

	// semanticBoost scales semantic-index hits against keyword hits.
	semanticBoost = 3.0

	// matchMinTrust is the trust floor below which Match refuses to
	// recommend an agent.
	matchMinTrust = 0.2
)

// SearchResult pairs a record with its composite relevance score.
type SearchResult struct {
	Record directory.AgentRecord `json:"record"`
	Score  float64               `json:"score"`
}

// Search ranks agents against a free-text query. The composite score is
// keyword relevance boosted by trust, plus scaled semantic similarity
// when a semantic index is wired in.
func (e *Engine) Search(query string, f Filter, limit int) []SearchResult {
	key := cacheKey(query, f, limit)
	if cached, ok := e.cache.Get(key); ok {
		return cached
	}

	scores := make(map[string]float64)

	tokens := tokenize(query)
	for _, rec := range e.dir.Snapshot() {
		if !e.passes(rec, f) {
			continue
		}
		if kw := keywordScore(rec, tokens); kw > 0 {
			trust := e.score(rec.ID)
			scores[rec.ID] = kw * (0.8 + trust*0.4)
		}
	}

	if e.semantic != nil && query != "" {
		hits, err := e.semantic.Query(query, limit*4)
		if err != nil {
			e.log.Debug("semantic query failed", map[string]interface{}{"error": err})
		}
		for _, hit := range hits {
			rec, ok := e.dir.Get(hit.ID)
			if !ok || !e.passes(rec, f) {
				continue
			}
			scores[hit.ID] += hit.Score * semanticBoost
		}
	}

	results := make([]SearchResult, 0, len(scores))
	for id, score := range scores {
		rec, ok := e.dir.Get(id)
		if !ok {
			continue
		}
		results = append(results, SearchResult{Record: rec, Score: score})
	}
	sortResults(results)
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}

	e.cache.Add(key, results)
	return results
}

// MatchResult explains which agent Match chose and why.
type MatchResult struct {
	Record directory.AgentRecord `json:"record"`
	Score  float64               `json:"score"`
	Reason string                `json:"reason"`
}

// Match picks the single best agent for a task description. It only
// recommends healthy agents above the trust floor; when none qualifies
// the error suggests how to loosen the request.
func (e *Engine) Match(query string, f Filter) (MatchResult, error) {
	f.IncludeUnhealthy = false
	if f.MinTrust < matchMinTrust {
		f.MinTrust = matchMinTrust
	}

	results := e.Search(query, f, 5)
	if len(results) == 0 {
		return MatchResult{}, errors.NotFound(
			"no healthy trusted agent matches; retry with fewer filters or a broader description")
	}

	best := results[0]
	return MatchResult{
		Record: best.Record,
		Score:  best.Score,
		Reason: matchReason(best.Record, tokenize(query)),
	}, nil
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// keywordScore sums field weights over query tokens. A token that hits a
// skill name does not also collect the skill description weight, so a
// verbose skill cannot count twice.
func keywordScore(rec directory.AgentRecord, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}

	name := strings.ToLower(rec.Name)
	desc := strings.ToLower(rec.Description)

	var total float64
	for _, tok := range tokens {
		if strings.Contains(name, tok) {
			total += weightName
		}
		if strings.Contains(desc, tok) {
			total += weightDesc
		}

		skillHit := false
		for _, s := range rec.Skills {
			if strings.Contains(strings.ToLower(s.Name), tok) {
				total += weightSkillName
				skillHit = true
				break
			}
		}
		if !skillHit {
			for _, s := range rec.Skills {
				if strings.Contains(strings.ToLower(s.Description), tok) {
					total += weightSkillDesc
					break
				}
			}
		}

		for _, tag := range rec.Tags {
			if strings.Contains(strings.ToLower(tag), tok) {
				total += weightTag
				break
			}
		}
	}
	return total
}

func matchReason(rec directory.AgentRecord, tokens []string) string {
	for _, s := range rec.Skills {
		lower := strings.ToLower(s.Name)
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				return "skill " + s.Name + " matches the request"
			}
		}
	}
	return "best overall relevance and trust"
}

// sortResults orders by score descending, id ascending for stability.
func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.ID < results[j].Record.ID
	})
}
