package query

import (
	"github.com/blevesearch/bleve/v2"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

// ExactTerm matches documents containing the exact term in a field.
type ExactTerm struct {
	Term map[string]string `json:"term"`
}

func (e ExactTerm) CreateQuery(s *schema.Schema) (bquery.Query, error) {
	field, value, err := singlePair(e.Term)
	if err != nil {
		return nil, err
	}
	if _, ok := s.Field(field); !ok {
		return nil, types.UnknownField(field)
	}
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	return q, nil
}

// singlePair extracts the single field→value entry a term-style variant
// carries.
func singlePair(m map[string]string) (string, string, error) {
	if len(m) != 1 {
		return "", "", types.QueryError("query expects exactly one field, got %d", len(m))
	}
	for k, v := range m {
		return k, v, nil
	}
	return "", "", types.QueryError("query generation failed")
}
