package discovery

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
)

// SemanticHit is one semantic-index result.
type SemanticHit struct {
	ID    string
	Score float64
}

// SemanticIndex ranks agents by textual similarity to a query. The
// directory's keyword scorer handles exact hits; this index catches
// descriptions that say the same thing in different words.
type SemanticIndex interface {
	Index(agentID, text string) error
	Remove(agentID string) error
	Query(query string, limit int) ([]SemanticHit, error)
	Close() error
}

// BleveIndex implements SemanticIndex over an in-memory bleve index.
type BleveIndex struct {
	idx bleve.Index
}

type semanticDoc struct {
	Text string `json:"text"`
}

// NewBleveIndex creates an empty in-memory index.
func NewBleveIndex() (*BleveIndex, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &BleveIndex{idx: idx}, nil
}

// OpenBleveIndex opens (or creates) a persistent index at path.
func OpenBleveIndex(path string) (*BleveIndex, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}
	return &BleveIndex{idx: idx}, nil
}

// Index stores (or replaces) an agent's semantic text.
func (b *BleveIndex) Index(agentID, text string) error {
	return b.idx.Index(agentID, semanticDoc{Text: text})
}

// Remove drops an agent from the index.
func (b *BleveIndex) Remove(agentID string) error {
	return b.idx.Delete(agentID)
}

// Query returns the closest agents with bleve relevance scores.
func (b *BleveIndex) Query(query string, limit int) ([]SemanticHit, error) {
	if limit <= 0 {
		limit = 10
	}

	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	res, err := b.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	hits := make([]SemanticHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, SemanticHit{ID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// Close releases the index.
func (b *BleveIndex) Close() error {
	return b.idx.Close()
}
