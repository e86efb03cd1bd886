package query

import (
	"regexp"

	"github.com/blevesearch/bleve/v2"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

// Regex matches terms of an indexed field against a pattern. The pattern
// is anchored by the engine: it must match a whole term.
type Regex struct {
	Regex map[string]string `json:"regex"`
}

func (r Regex) CreateQuery(s *schema.Schema) (bquery.Query, error) {
	field, pattern, err := singlePair(r.Regex)
	if err != nil {
		return nil, err
	}
	f, ok := s.Field(field)
	if !ok {
		return nil, types.UnknownField(field)
	}
	if !f.Indexed() {
		return nil, types.FieldNotIndexed(field)
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, types.QueryError("invalid regex pattern: %v", err)
	}
	q := bleve.NewRegexpQuery(pattern)
	q.SetField(field)
	return q, nil
}
