package query

import (
	"github.com/blevesearch/bleve/v2"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

// BoolClauses are the sub-queries of a boolean combination.
type BoolClauses struct {
	Must    []Node `json:"must,omitempty"`
	MustNot []Node `json:"must_not,omitempty"`
	Should  []Node `json:"should,omitempty"`
}

// Bool combines sub-queries: must contributes AND, must_not NOT, should
// OR. Minimum-should-match is 0, or 1 when there are no must clauses.
type Bool struct {
	Bool BoolClauses `json:"bool"`
}

func (b Bool) CreateQuery(s *schema.Schema) (bquery.Query, error) {
	clauses := b.Bool
	if len(clauses.Must) == 0 && len(clauses.MustNot) == 0 && len(clauses.Should) == 0 {
		return nil, types.QueryError("bool query has no clauses")
	}

	q := bleve.NewBooleanQuery()
	for _, n := range clauses.Must {
		sub, err := n.Query.CreateQuery(s)
		if err != nil {
			return nil, err
		}
		q.AddMust(sub)
	}
	for _, n := range clauses.MustNot {
		sub, err := n.Query.CreateQuery(s)
		if err != nil {
			return nil, err
		}
		q.AddMustNot(sub)
	}
	for _, n := range clauses.Should {
		sub, err := n.Query.CreateQuery(s)
		if err != nil {
			return nil, err
		}
		q.AddShould(sub)
	}
	if len(clauses.Should) > 0 && len(clauses.Must) == 0 {
		q.SetMinShould(1)
	}
	return q, nil
}
