package index

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	bquery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/quarry-search/quarry/config"
	"github.com/quarry-search/quarry/internal/query"
	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

// maxFacetTerms bounds how many facet values the engine collects per
// requested facet field.
const maxFacetTerms = 100

// IndexOptions are the per-mutation options.
type IndexOptions struct {
	Commit bool `json:"commit"`
}

// AddDocument is the body of a document ingest.
type AddDocument struct {
	Options  *IndexOptions   `json:"options,omitempty"`
	Document json.RawMessage `json:"document"`
}

// DeleteDoc is the body of a delete-by-term request.
type DeleteDoc struct {
	Options *IndexOptions     `json:"options,omitempty"`
	Terms   map[string]string `json:"terms"`
}

// DocsAffected reports how many documents a delete staged for removal.
type DocsAffected struct {
	DocsAffected uint64 `json:"docs_affected"`
}

// Handle grants search and mutation access to one index.
type Handle interface {
	Name() string
	SearchIndex(ctx context.Context, search *query.Search) (*query.SearchResults, error)
	AddDocument(doc AddDocument) error
	DeleteTerm(del DeleteDoc) (DocsAffected, error)
}

// LocalIndex owns one index on disk. Mutations stage into a single
// writer batch guarded by a mutex; searches read the last committed
// state and never take the writer lock.
type LocalIndex struct {
	name     string
	index    bleve.Index
	schema   *schema.Schema
	settings config.SearchConfig

	mu      sync.Mutex // guards batch; the exclusive writer
	batch   *bleve.Batch
	opstamp atomic.Uint64
}

var _ Handle = (*LocalIndex)(nil)

// Name returns the handle's name; it matches the index directory
// basename.
func (h *LocalIndex) Name() string { return h.name }

// Schema returns the schema the index was created with.
func (h *LocalIndex) Schema() *schema.Schema { return h.schema }

// Opstamp returns the count of uncommitted operations.
func (h *LocalIndex) Opstamp() uint64 { return h.opstamp.Load() }

// Staged returns the number of operations sitting in the writer batch.
func (h *LocalIndex) Staged() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.batch.Size()
}

// StagedBytes estimates the memory held by the writer batch, compared
// against the configured writer memory budget.
func (h *LocalIndex) StagedBytes() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.batch.TotalDocsSize()
}

// SearchIndex compiles and executes a search against the last committed
// state. Concurrent searches do not block each other or the writer.
func (h *LocalIndex) SearchIndex(ctx context.Context, search *query.Search) (*query.SearchResults, error) {
	q := search.Query
	if q == nil {
		q = query.All{}
	}
	compiled, err := q.CreateQuery(h.schema)
	if err != nil {
		return nil, err
	}

	req := bleve.NewSearchRequestOptions(compiled, search.Limit, 0, false)
	req.Fields = []string{"*"}
	for field := range search.Facets {
		f, ok := h.schema.Field(field)
		if !ok {
			return nil, types.UnknownField(field)
		}
		if f.Type != schema.TypeFacet {
			return nil, types.QueryError("field %s is not a facet field", field)
		}
		req.AddFacet(field, bleve.NewFacetRequest(field, maxFacetTerms))
	}

	res, err := h.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, types.QueryError("Error in query execution: '%v'", err)
	}

	docs := make([]query.ScoredDoc, 0, len(res.Hits))
	for _, hit := range res.Hits {
		score := hit.Score
		docs = append(docs, query.ScoredDoc{Score: &score, Doc: namedDoc(hit.Fields)})
	}
	results := query.NewSearchResults(res.Total, docs)

	for field, paths := range search.Facets {
		fr, ok := res.Facets[field]
		if !ok || fr.Terms == nil {
			continue
		}
		for _, term := range fr.Terms.Terms() {
			for _, path := range paths {
				if strings.HasPrefix(term.Term, path) {
					results.Facets = append(results.Facets, query.FacetCount{Field: term.Term, Value: uint64(term.Count)})
					break
				}
			}
		}
	}
	sort.Slice(results.Facets, func(i, j int) bool { return results.Facets[i].Field < results.Facets[j].Field })

	if search.Aggs != nil {
		f, err := search.Aggs.Validate(h.schema)
		if err != nil {
			return nil, err
		}
		values, err := h.fieldValues(ctx, compiled, f.Name, res.Total)
		if err != nil {
			return nil, err
		}
		results.Aggs = query.SumValues(f, values)
	}
	return results, nil
}

// fieldValues materializes the stored values of one field across every
// matched document for aggregation. Missing values contribute nothing.
func (h *LocalIndex) fieldValues(ctx context.Context, compiled bquery.Query, field string, total uint64) ([]float64, error) {
	if total == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(compiled, int(total), 0, false)
	req.Fields = []string{field}
	res, err := h.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, types.QueryError("Error in query execution: '%v'", err)
	}
	var values []float64
	for _, hit := range res.Hits {
		switch v := hit.Fields[field].(type) {
		case float64:
			values = append(values, v)
		case []interface{}:
			for _, e := range v {
				if n, ok := e.(float64); ok {
					values = append(values, n)
				}
			}
		}
	}
	return values, nil
}

func namedDoc(fields map[string]interface{}) query.NamedDoc {
	doc := make(query.NamedDoc, len(fields))
	for name, value := range fields {
		if arr, ok := value.([]interface{}); ok {
			doc[name] = arr
			continue
		}
		doc[name] = []interface{}{value}
	}
	return doc
}

// AddDocument validates the document against the schema and stages it on
// the writer. With commit set the batch is flushed and the opstamp
// resets; otherwise the opstamp increments by one.
func (h *LocalIndex) AddDocument(add AddDocument) error {
	doc, err := h.schema.ParseDocument(add.Document)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.batch.Index(uuid.NewString(), doc); err != nil {
		return types.IOError(err)
	}
	if add.Options != nil && add.Options.Commit {
		return h.commitLocked()
	}
	h.opstamp.Add(1)
	return nil
}

// DeleteTerm resolves each (field, value) pair against committed state
// and stages the matching documents for deletion.
func (h *LocalIndex) DeleteTerm(del DeleteDoc) (DocsAffected, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]struct{})
	for field, value := range del.Terms {
		if _, ok := h.schema.Field(field); !ok {
			return DocsAffected{}, types.UnknownField(field)
		}
		count, err := h.index.DocCount()
		if err != nil {
			return DocsAffected{}, types.IOError(err)
		}
		if count == 0 {
			continue
		}
		tq := bleve.NewTermQuery(value)
		tq.SetField(field)
		req := bleve.NewSearchRequestOptions(tq, int(count), 0, false)
		res, err := h.index.Search(req)
		if err != nil {
			return DocsAffected{}, types.IOError(err)
		}
		for _, hit := range res.Hits {
			if _, dup := seen[hit.ID]; dup {
				continue
			}
			seen[hit.ID] = struct{}{}
			h.batch.Delete(hit.ID)
		}
	}

	if del.Options != nil && del.Options.Commit {
		if err := h.commitLocked(); err != nil {
			return DocsAffected{}, err
		}
	}
	return DocsAffected{DocsAffected: uint64(len(seen))}, nil
}

// Commit flushes the staged batch into a new searchable state and resets
// the opstamp.
func (h *LocalIndex) Commit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.commitLocked()
}

// commitLocked requires h.mu. A failed commit keeps the staged batch so
// the next commit retries it; the handle stays usable.
func (h *LocalIndex) commitLocked() error {
	if err := h.index.Batch(h.batch); err != nil {
		return types.IOError(err)
	}
	h.batch.Reset()
	h.opstamp.Store(0)
	return nil
}

// Summary returns the engine's meta for the index.
func (h *LocalIndex) Summary() (map[string]interface{}, error) {
	count, err := h.index.DocCount()
	if err != nil {
		return nil, types.IOError(err)
	}
	return map[string]interface{}{
		"index":     h.name,
		"doc_count": count,
		"segments":  h.index.StatsMap(),
	}, nil
}

// Close releases the writer and the underlying directory. Staged,
// uncommitted operations are dropped.
func (h *LocalIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batch.Reset()
	if err := h.index.Close(); err != nil {
		return types.IOError(err)
	}
	return nil
}
