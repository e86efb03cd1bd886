package query

import (
	"github.com/blevesearch/bleve/v2"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

// maxEditDistance caps fuzzy matching; larger distances degenerate into
// scans of the whole term dictionary.
const maxEditDistance = 2

// FuzzyTerm is the value, edit distance and transposition flag of a
// fuzzy match.
type FuzzyTerm struct {
	Value         string `json:"value"`
	Distance      int    `json:"distance"`
	Transposition bool   `json:"transposition"`
}

// Fuzzy matches terms within an edit distance of the value.
type Fuzzy struct {
	Fuzzy map[string]FuzzyTerm `json:"fuzzy"`
}

func (f Fuzzy) CreateQuery(s *schema.Schema) (bquery.Query, error) {
	if len(f.Fuzzy) != 1 {
		return nil, types.QueryError("fuzzy query expects exactly one field, got %d", len(f.Fuzzy))
	}
	for field, term := range f.Fuzzy {
		if _, ok := s.Field(field); !ok {
			return nil, types.UnknownField(field)
		}
		if term.Value == "" {
			return nil, types.QueryError("fuzzy query on %s has an empty value", field)
		}
		distance := term.Distance
		if distance > maxEditDistance {
			distance = maxEditDistance
		}
		if distance < 0 {
			return nil, types.QueryError("fuzzy distance must not be negative")
		}
		if distance == 0 {
			// The engine builds no automaton for distance 0; an exact
			// term query matches the same terms.
			q := bleve.NewTermQuery(term.Value)
			q.SetField(field)
			return q, nil
		}
		q := bleve.NewFuzzyQuery(term.Value)
		q.SetField(field)
		q.SetFuzziness(distance)
		return q, nil
	}
	return nil, types.QueryError("query generation failed")
}
