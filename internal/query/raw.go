package query

import (
	"github.com/blevesearch/bleve/v2"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

// Raw is a free-form query string handed to the engine's parser.
type Raw struct {
	Raw string `json:"raw"`
}

func (r Raw) CreateQuery(s *schema.Schema) (bquery.Query, error) {
	if r.Raw == "" {
		return nil, types.QueryError("raw query is empty")
	}
	qs := bleve.NewQueryStringQuery(r.Raw)
	parsed, err := qs.Parse()
	if err != nil {
		return nil, types.QueryError("Query Parse Error: %v", err)
	}
	if err := checkFields(parsed, s); err != nil {
		return nil, err
	}
	return parsed, nil
}

// checkFields walks the parsed query and verifies every referenced field
// exists and is indexed; the engine's parser accepts any field name.
func checkFields(q bquery.Query, s *schema.Schema) error {
	switch t := q.(type) {
	case *bquery.BooleanQuery:
		for _, sub := range []bquery.Query{t.Must, t.Should, t.MustNot} {
			if sub == nil {
				continue
			}
			if err := checkFields(sub, s); err != nil {
				return err
			}
		}
	case *bquery.ConjunctionQuery:
		for _, sub := range t.Conjuncts {
			if err := checkFields(sub, s); err != nil {
				return err
			}
		}
	case *bquery.DisjunctionQuery:
		for _, sub := range t.Disjuncts {
			if err := checkFields(sub, s); err != nil {
				return err
			}
		}
	default:
		if fq, ok := q.(bquery.FieldableQuery); ok {
			field := fq.Field()
			if field == "" {
				return nil
			}
			f, found := s.Field(field)
			if !found {
				return types.UnknownField(field)
			}
			if !f.Indexed() {
				return types.FieldNotIndexed(field)
			}
		}
	}
	return nil
}

// All matches every document. It serializes as the literal string "all".
type All struct{}

func (All) CreateQuery(*schema.Schema) (bquery.Query, error) {
	return bleve.NewMatchAllQuery(), nil
}

func (All) MarshalJSON() ([]byte, error) {
	return []byte(`"all"`), nil
}
