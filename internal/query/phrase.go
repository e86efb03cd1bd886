package query

import (
	"strings"

	"github.com/blevesearch/bleve/v2"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

// TermPair is an ordered term list with an optional slop.
type TermPair struct {
	Terms []string `json:"terms"`
	Slop  int      `json:"slop,omitempty"`
}

// Phrase matches documents containing the terms in order in a text field
// with positions recorded.
type Phrase struct {
	Phrase map[string]TermPair `json:"phrase"`
}

func (p Phrase) CreateQuery(s *schema.Schema) (bquery.Query, error) {
	if len(p.Phrase) != 1 {
		return nil, types.QueryError("phrase query expects exactly one field, got %d", len(p.Phrase))
	}
	for field, pair := range p.Phrase {
		f, ok := s.Field(field)
		if !ok {
			return nil, types.UnknownField(field)
		}
		if f.Type != schema.TypeText || !f.HasPositions() {
			return nil, types.FieldNotIndexed(field)
		}
		if len(pair.Terms) == 0 {
			return nil, types.QueryError("phrase query on %s has no terms", field)
		}
		if pair.Slop < 0 {
			return nil, types.QueryError("phrase slop must not be negative")
		}
		if pair.Slop > 0 {
			// The engine's phrase matcher has no slop support.
			return nil, types.QueryError("phrase slop is not supported by the engine")
		}
		// Joining and re-analyzing runs the terms through the exact
		// analyzer the field was indexed with.
		q := bleve.NewMatchPhraseQuery(strings.Join(pair.Terms, " "))
		q.SetField(field)
		return q, nil
	}
	return nil, types.QueryError("query generation failed")
}
