package index

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/quarry-search/quarry/config"
	"github.com/quarry-search/quarry/internal/query"
	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

const testSchemaJSON = `[
	{"name":"test_text","type":"text","options":{"indexing":{"record":"position","tokenizer":"default"},"stored":true}},
	{"name":"test_unindex","type":"text","options":{"stored":true}},
	{"name":"test_i64","type":"i64","options":{"indexed":true,"stored":true}},
	{"name":"test_u64","type":"u64","options":{"indexed":true,"stored":true}},
	{"name":"test_facet","type":"facet","options":{"stored":true}}
]`

var testDocs = []string{
	`{"test_text":"Test Document 1","test_i64":2012,"test_u64":10,"test_facet":"/cat/cat1"}`,
	`{"test_text":"Test Dockument 2","test_i64":2014,"test_u64":20,"test_facet":"/cat/cat2"}`,
	`{"test_text":"Test Duckiment 3","test_i64":2015,"test_u64":30,"test_facet":"/cat/cat2"}`,
	`{"test_text":"Test Document 4","test_i64":2016,"test_u64":40,"test_facet":"/cat/cat3"}`,
	`{"test_text":"Test Document 5","test_i64":2018,"test_u64":50,"test_facet":"/cat/cat4"}`,
}

func testSettings(t *testing.T) config.SearchConfig {
	t.Helper()
	return config.SearchConfig{
		Path:               t.TempDir(),
		WriterMemory:       64 * 1024 * 1024,
		DefaultResultLimit: 100,
	}
}

// newTestIndex opens a fresh index pre-loaded with the five committed
// test documents.
func newTestIndex(t *testing.T) *LocalIndex {
	t.Helper()
	cfg := testSettings(t)
	sch, err := schema.Parse([]byte(testSchemaJSON))
	if err != nil {
		t.Fatalf("Failed to parse schema: %v", err)
	}
	h, err := Open(cfg.Path, "test_index", sch, cfg)
	if err != nil {
		t.Fatalf("Failed to open index: %v", err)
	}
	t.Cleanup(func() { h.Close() })

	for _, doc := range testDocs {
		if err := h.AddDocument(AddDocument{Document: json.RawMessage(doc)}); err != nil {
			t.Fatalf("Failed to add document %s: %v", doc, err)
		}
	}
	if err := h.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	return h
}

func runSearch(t *testing.T, h *LocalIndex, body string) *query.SearchResults {
	t.Helper()
	search, err := query.ParseSearch([]byte(body), 100)
	if err != nil {
		t.Fatalf("Failed to parse search %s: %v", body, err)
	}
	results, err := h.SearchIndex(context.Background(), search)
	if err != nil {
		t.Fatalf("Search %s failed: %v", body, err)
	}
	return results
}

func TestLocalIndex_TermQuery(t *testing.T) {
	h := newTestIndex(t)
	results := runSearch(t, h, `{"query":{"term":{"test_text":"document"}}}`)
	if results.Hits != 3 {
		t.Errorf("Expected 3 hits, got %d", results.Hits)
	}
	if len(results.Docs) != 3 {
		t.Errorf("Expected 3 docs, got %d", len(results.Docs))
	}
}

func TestLocalIndex_RegexQuery(t *testing.T) {
	h := newTestIndex(t)
	results := runSearch(t, h, `{"query":{"regex":{"test_text":"d[ou]{1}c[k]?ument"}}}`)
	if results.Hits != 4 {
		t.Errorf("Expected 4 hits, got %d", results.Hits)
	}
}

func TestLocalIndex_InclusiveRangeQuery(t *testing.T) {
	h := newTestIndex(t)
	results := runSearch(t, h, `{"query":{"range":{"test_i64":{"gte":2012,"lte":2015}}}}`)
	if results.Hits != 3 {
		t.Errorf("Expected 3 hits, got %d", results.Hits)
	}
	if len(results.Docs) == 0 || results.Docs[0].Score == nil || *results.Docs[0].Score <= 0 {
		t.Error("Expected the first hit to carry a positive score")
	}
}

func TestLocalIndex_ExclusiveRangeQuery(t *testing.T) {
	h := newTestIndex(t)
	results := runSearch(t, h, `{"query":{"range":{"test_i64":{"gt":2012,"lt":2015}}}}`)
	if results.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", results.Hits)
	}
}

func TestLocalIndex_BoolQuery(t *testing.T) {
	h := newTestIndex(t)
	body := `{"query":{"bool":{"must":[{"term":{"test_text":"document"}}],"must_not":[{"range":{"test_i64":{"gt":2017}}}]}}}`
	results := runSearch(t, h, body)
	if results.Hits != 2 {
		t.Errorf("Expected 2 hits, got %d", results.Hits)
	}
}

func TestLocalIndex_FuzzyQuery(t *testing.T) {
	h := newTestIndex(t)
	results := runSearch(t, h, `{"query":{"fuzzy":{"test_text":{"value":"document","distance":0,"transposition":false}}}}`)
	if results.Hits != 3 {
		t.Errorf("Expected 3 hits, got %d", results.Hits)
	}
}

func TestLocalIndex_PhraseQuery(t *testing.T) {
	h := newTestIndex(t)
	results := runSearch(t, h, `{"query":{"phrase":{"test_text":{"terms":["test","document"]}}}}`)
	if results.Hits != 3 {
		t.Errorf("Expected 3 hits, got %d", results.Hits)
	}
}

func TestLocalIndex_AllAndDefault(t *testing.T) {
	h := newTestIndex(t)
	all := runSearch(t, h, `{"query":"all"}`)
	if all.Hits != 5 {
		t.Errorf("Expected 5 hits for all, got %d", all.Hits)
	}
	// Absent query means match-all.
	absent := runSearch(t, h, `{}`)
	if absent.Hits != 5 {
		t.Errorf("Expected 5 hits for absent query, got %d", absent.Hits)
	}
}

func TestLocalIndex_UnknownField(t *testing.T) {
	h := newTestIndex(t)
	search, err := query.ParseSearch([]byte(`{"query":{"term":{"asdf":"Document"}}}`), 100)
	if err != nil {
		t.Fatalf("Failed to parse search: %v", err)
	}
	_, err = h.SearchIndex(context.Background(), search)
	if err == nil {
		t.Fatal("Expected unknown field to fail")
	}
	if err.Error() != "Unknown field: asdf" {
		t.Errorf("Expected 'Unknown field: asdf', got %q", err.Error())
	}
}

func TestLocalIndex_LimitZero(t *testing.T) {
	h := newTestIndex(t)
	results := runSearch(t, h, `{"query":{"term":{"test_text":"document"}},"limit":0}`)
	if results.Hits != 3 {
		t.Errorf("Expected hits to report total matches, got %d", results.Hits)
	}
	if len(results.Docs) != 0 {
		t.Errorf("Expected no docs with limit 0, got %d", len(results.Docs))
	}
}

func TestLocalIndex_NamedDocs(t *testing.T) {
	h := newTestIndex(t)
	results := runSearch(t, h, `{"query":{"range":{"test_i64":{"gte":2018}}}}`)
	if results.Hits != 1 {
		t.Fatalf("Expected 1 hit, got %d", results.Hits)
	}
	doc := results.Docs[0].Doc
	text, ok := doc["test_text"]
	if !ok || len(text) != 1 || text[0] != "Test Document 5" {
		t.Errorf("Expected named doc with test_text 'Test Document 5', got %#v", doc)
	}
}

func TestLocalIndex_Facets(t *testing.T) {
	h := newTestIndex(t)
	results := runSearch(t, h, `{"query":{"term":{"test_text":"document"}},"facets":{"test_facet":["/cat"]}}`)
	if len(results.Facets) != 3 {
		t.Fatalf("Expected 3 facet counts, got %#v", results.Facets)
	}
	for _, fc := range results.Facets {
		if fc.Value != 1 {
			t.Errorf("Expected each facet path to count 1, got %#v", fc)
		}
	}
	if results.Facets[0].Field != "/cat/cat1" {
		t.Errorf("Expected facets sorted by path, got %#v", results.Facets)
	}
}

func TestLocalIndex_AggregateSum(t *testing.T) {
	h := newTestIndex(t)

	results := runSearch(t, h, `{"query":"all","aggs":{"sum":{"field":"test_u64"}}}`)
	if results.Aggs == nil || results.Aggs.Sum != 150 || results.Aggs.Overflow {
		t.Errorf("Expected sum 150, got %#v", results.Aggs)
	}

	results = runSearch(t, h, `{"query":{"term":{"test_text":"document"}},"aggs":{"sum":{"field":"test_u64"}}}`)
	if results.Aggs == nil || results.Aggs.Sum != 100 {
		t.Errorf("Expected sum restricted to matches to be 100, got %#v", results.Aggs)
	}
}

func TestLocalIndex_Opstamp(t *testing.T) {
	h := newTestIndex(t)
	if h.Opstamp() != 0 {
		t.Fatalf("Expected opstamp 0 after commit, got %d", h.Opstamp())
	}

	doc := `{"test_text":"Babbaboo!","test_i64":-10,"test_u64":10,"test_facet":"/cat/cat1"}`
	if err := h.AddDocument(AddDocument{Document: json.RawMessage(doc)}); err != nil {
		t.Fatalf("Failed to add document: %v", err)
	}
	if h.Opstamp() != 1 {
		t.Errorf("Expected opstamp 1 after uncommitted add, got %d", h.Opstamp())
	}

	commit := true
	if err := h.AddDocument(AddDocument{Options: &IndexOptions{Commit: commit}, Document: json.RawMessage(doc)}); err != nil {
		t.Fatalf("Failed to add document with commit: %v", err)
	}
	if h.Opstamp() != 0 {
		t.Errorf("Expected opstamp 0 after committing add, got %d", h.Opstamp())
	}
}

func TestLocalIndex_UncommittedInvisible(t *testing.T) {
	h := newTestIndex(t)
	doc := `{"test_text":"Pending Document","test_i64":1,"test_u64":1,"test_facet":"/cat/cat9"}`
	if err := h.AddDocument(AddDocument{Document: json.RawMessage(doc)}); err != nil {
		t.Fatalf("Failed to add document: %v", err)
	}

	results := runSearch(t, h, `{"query":{"term":{"test_text":"pending"}}}`)
	if results.Hits != 0 {
		t.Errorf("Expected uncommitted add to be invisible, got %d hits", results.Hits)
	}

	if err := h.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	results = runSearch(t, h, `{"query":{"term":{"test_text":"pending"}}}`)
	if results.Hits != 1 {
		t.Errorf("Expected committed add to be visible, got %d hits", results.Hits)
	}
}

func TestLocalIndex_DeleteTerm(t *testing.T) {
	h := newTestIndex(t)
	affected, err := h.DeleteTerm(DeleteDoc{
		Options: &IndexOptions{Commit: true},
		Terms:   map[string]string{"test_text": "document"},
	})
	if err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if affected.DocsAffected != 3 {
		t.Errorf("Expected 3 docs affected, got %d", affected.DocsAffected)
	}

	results := runSearch(t, h, `{"query":{"term":{"test_text":"document"}}}`)
	if results.Hits != 0 {
		t.Errorf("Expected 0 hits after delete, got %d", results.Hits)
	}
}

func TestLocalIndex_DeleteUnknownField(t *testing.T) {
	h := newTestIndex(t)
	_, err := h.DeleteTerm(DeleteDoc{Terms: map[string]string{"asdf": "x"}})
	if types.KindOf(err) != types.KindUnknownField {
		t.Errorf("Expected unknown field, got %v", err)
	}
}

func TestLocalIndex_AddDocumentValidation(t *testing.T) {
	h := newTestIndex(t)
	if err := h.AddDocument(AddDocument{Document: json.RawMessage(`{"bogus":"x"}`)}); err == nil {
		t.Error("Expected unknown document field to fail")
	}
	if err := h.AddDocument(AddDocument{Document: json.RawMessage(`{"test_i64":"nope"}`)}); err == nil {
		t.Error("Expected type mismatch to fail")
	}
	if h.Opstamp() != 0 {
		t.Errorf("Expected rejected documents to leave the opstamp alone, got %d", h.Opstamp())
	}
}

func TestLocalIndex_ConcurrentAdds(t *testing.T) {
	h := newTestIndex(t)
	const writers = 8

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := `{"test_text":"Concurrent Entry","test_i64":1,"test_u64":1,"test_facet":"/cat/conc"}`
			if err := h.AddDocument(AddDocument{Document: json.RawMessage(doc)}); err != nil {
				t.Errorf("Concurrent add failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if h.Opstamp() != writers {
		t.Errorf("Expected opstamp %d, got %d", writers, h.Opstamp())
	}
	if err := h.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	results := runSearch(t, h, `{"query":{"term":{"test_text":"concurrent"}}}`)
	if results.Hits != writers {
		t.Errorf("Expected the commit to include all %d adds, got %d", writers, results.Hits)
	}
}

func TestLocalIndex_Summary(t *testing.T) {
	h := newTestIndex(t)
	summary, err := h.Summary()
	if err != nil {
		t.Fatalf("Failed to load summary: %v", err)
	}
	if summary["doc_count"] != uint64(5) {
		t.Errorf("Expected doc_count 5, got %v", summary["doc_count"])
	}
}
