package query

import (
	"bytes"
	"encoding/json"
	"fmt"

	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

// Query is one variant of the structured query grammar. CreateQuery
// compiles the variant against a schema into an executable engine query.
type Query interface {
	CreateQuery(s *schema.Schema) (bquery.Query, error)
}

// variantKeys are the object keys that discriminate the query variants.
var variantKeys = []string{"term", "phrase", "fuzzy", "regex", "range", "bool", "raw"}

// ParseQuery selects the query variant structurally: by which of the
// variant keys is present. The literal string "all" is the match-all
// query. Ambiguous or unrecognized inputs fail with a query error.
func ParseQuery(data []byte) (Query, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, types.QueryError("empty query")
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, types.QueryError("invalid query: %v", err)
		}
		if s != "all" {
			return nil, types.QueryError("unrecognized query %q", s)
		}
		return All{}, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &keys); err != nil {
		return nil, types.QueryError("invalid query: %v", err)
	}

	var matched []string
	for _, k := range variantKeys {
		if _, ok := keys[k]; ok {
			matched = append(matched, k)
		}
	}
	if len(matched) == 0 {
		return nil, types.QueryError("no recognized query variant in %s", trimmed)
	}
	if len(matched) > 1 {
		return nil, types.QueryError("ambiguous query: keys %v", matched)
	}

	var (
		q   Query
		err error
	)
	switch key := matched[0]; key {
	case "term":
		var t ExactTerm
		err = json.Unmarshal(trimmed, &t)
		q = t
	case "phrase":
		var p Phrase
		err = json.Unmarshal(trimmed, &p)
		q = p
	case "fuzzy":
		var f Fuzzy
		err = json.Unmarshal(trimmed, &f)
		q = f
	case "regex":
		var r Regex
		err = json.Unmarshal(trimmed, &r)
		q = r
	case "range":
		var r Range
		err = json.Unmarshal(trimmed, &r)
		q = r
	case "bool":
		var b Bool
		err = json.Unmarshal(trimmed, &b)
		q = b
	case "raw":
		var r Raw
		err = json.Unmarshal(trimmed, &r)
		q = r
	}
	if err != nil {
		return nil, types.QueryError("invalid query: %v", err)
	}
	return q, nil
}

// Node wraps a Query so the untagged grammar can nest inside boolean
// clauses and the search request.
type Node struct {
	Query Query
}

func (n *Node) UnmarshalJSON(data []byte) error {
	q, err := ParseQuery(data)
	if err != nil {
		return err
	}
	n.Query = q
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Query)
}

// Search is the request body of a search call.
type Search struct {
	Query  Query
	Aggs   *Metrics
	Facets map[string][]string
	Limit  int
}

// ParseSearch decodes a search request. An absent query means match-all;
// an absent limit takes the supplied default.
func ParseSearch(data []byte, defaultLimit int) (*Search, error) {
	var aux struct {
		Query  json.RawMessage     `json:"query"`
		Aggs   *Metrics            `json:"aggs"`
		Facets map[string][]string `json:"facets"`
		Limit  *int                `json:"limit"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return nil, types.QueryError("Bad JSON Query: %v", err)
	}

	s := &Search{Aggs: aux.Aggs, Facets: aux.Facets, Limit: defaultLimit}
	if aux.Limit != nil {
		if *aux.Limit < 0 {
			return nil, types.QueryError("limit must not be negative")
		}
		s.Limit = *aux.Limit
	}
	if aux.Query != nil && !bytes.Equal(bytes.TrimSpace(aux.Query), []byte("null")) {
		q, err := ParseQuery(aux.Query)
		if err != nil {
			return nil, err
		}
		s.Query = q
	} else {
		s.Query = All{}
	}
	return s, nil
}

func (s Search) MarshalJSON() ([]byte, error) {
	aux := struct {
		Query  Query               `json:"query,omitempty"`
		Aggs   *Metrics            `json:"aggs,omitempty"`
		Facets map[string][]string `json:"facets,omitempty"`
		Limit  int                 `json:"limit"`
	}{s.Query, s.Aggs, s.Facets, s.Limit}
	return json.Marshal(aux)
}

// AllDocs is the request served for a bare GET on an index.
func AllDocs(limit int) *Search {
	return &Search{Query: All{}, Limit: limit}
}

// NamedDoc maps schema field names to the stored values of one document.
type NamedDoc map[string][]interface{}

// ScoredDoc pairs a document with its relevance score.
type ScoredDoc struct {
	Score *float64 `json:"score,omitempty"`
	Doc   NamedDoc `json:"doc"`
}

// FacetCount is one facet value under a requested path with its hit count.
type FacetCount struct {
	Field string `json:"field"`
	Value uint64 `json:"value"`
}

// SearchResults is the response body of a search call.
type SearchResults struct {
	Hits   uint64       `json:"hits"`
	Docs   []ScoredDoc  `json:"docs"`
	Facets []FacetCount `json:"facets"`
	Aggs   *AggResult   `json:"aggs,omitempty"`
}

// NewSearchResults keeps docs and facets non-nil so they serialize as
// empty arrays.
func NewSearchResults(hits uint64, docs []ScoredDoc) *SearchResults {
	if docs == nil {
		docs = []ScoredDoc{}
	}
	return &SearchResults{Hits: hits, Docs: docs, Facets: []FacetCount{}}
}

func (r *SearchResults) String() string {
	return fmt.Sprintf("SearchResults{hits: %d, docs: %d, facets: %d}", r.Hits, len(r.Docs), len(r.Facets))
}
