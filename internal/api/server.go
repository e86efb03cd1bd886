package api

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quarry-search/quarry/config"
	"github.com/quarry-search/quarry/internal/index"
	"github.com/quarry-search/quarry/internal/query"
	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

// Server represents the API server
type Server struct {
	catalog *index.Catalog
	config  *config.Config
}

// NewServer creates a new API server
func NewServer(catalog *index.Catalog, cfg *config.Config) *Server {
	return &Server{
		catalog: catalog,
		config:  cfg,
	}
}

// Router setups the API routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/_cat", s.handleCat)
	r.Get("/health", s.handleHealth)
	r.Get("/{index}", s.handleAllDocs)
	r.Post("/{index}", s.handleSearch)
	r.Put("/{index}", s.handlePut)
	r.Delete("/{index}", s.handleDelete)
	r.Get("/{index}/_summary", s.handleSummary)
	r.Post("/{index}/_bulk", s.handleBulk)

	return r
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	handle, err := s.catalog.GetIndex(chi.URLParam(r, "index"))
	if err != nil {
		errorResponse(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorResponse(w, types.IOError(err))
		return
	}

	var search *query.Search
	if len(body) == 0 {
		search = query.AllDocs(s.config.Search.DefaultResultLimit)
	} else {
		search, err = query.ParseSearch(body, s.config.Search.DefaultResultLimit)
		if err != nil {
			errorResponse(w, err)
			return
		}
	}
	log.Printf("Query: %s", body)

	results, err := handle.SearchIndex(r.Context(), search)
	if err != nil {
		errorResponse(w, err)
		return
	}
	response(w, http.StatusOK, results)
}

func (s *Server) handleAllDocs(w http.ResponseWriter, r *http.Request) {
	handle, err := s.catalog.GetIndex(chi.URLParam(r, "index"))
	if err != nil {
		errorResponse(w, err)
		return
	}

	results, err := handle.SearchIndex(r.Context(), query.AllDocs(s.config.Search.DefaultResultLimit))
	if err != nil {
		errorResponse(w, err)
		return
	}
	response(w, http.StatusOK, results)
}

// handlePut creates the index when the name is unbound and adds a
// document to it otherwise.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "index")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorResponse(w, types.IOError(err))
		return
	}

	if !s.catalog.Exists(name) {
		sch, err := schema.Parse(body)
		if err != nil {
			errorResponse(w, err)
			return
		}
		if err := s.catalog.AddIndex(name, sch); err != nil {
			errorResponse(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		return
	}

	handle, err := s.catalog.GetIndex(name)
	if err != nil {
		errorResponse(w, err)
		return
	}
	var add index.AddDocument
	if err := json.Unmarshal(body, &add); err != nil {
		errorResponse(w, types.QueryError("invalid document body: %v", err))
		return
	}
	if err := handle.AddDocument(add); err != nil {
		errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	handle, err := s.catalog.GetIndex(chi.URLParam(r, "index"))
	if err != nil {
		errorResponse(w, err)
		return
	}

	var del index.DeleteDoc
	if err := json.NewDecoder(r.Body).Decode(&del); err != nil {
		errorResponse(w, types.QueryError("invalid delete body: %v", err))
		return
	}
	if len(del.Terms) == 0 {
		errorResponse(w, types.QueryError("delete request names no terms"))
		return
	}

	affected, err := handle.DeleteTerm(del)
	if err != nil {
		errorResponse(w, err)
		return
	}
	response(w, http.StatusOK, affected)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	handle, err := s.catalog.GetIndex(chi.URLParam(r, "index"))
	if err != nil {
		errorResponse(w, err)
		return
	}
	summary, err := handle.Summary()
	if err != nil {
		errorResponse(w, err)
		return
	}
	response(w, http.StatusOK, summary)
}

func (s *Server) handleCat(w http.ResponseWriter, r *http.Request) {
	response(w, http.StatusOK, s.catalog.ListIndexes())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
	})
}

// handleBulk ingests newline-delimited documents. Parsing fans out over
// the configured worker count; staging serializes on the writer.
func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	handle, err := s.catalog.GetIndex(chi.URLParam(r, "index"))
	if err != nil {
		errorResponse(w, err)
		return
	}

	workers := s.config.Search.JSONParsingThreads
	if workers < 1 {
		workers = 1
	}

	var (
		bulkErr error
		once    sync.Once
		added   atomic.Uint64
		wg      sync.WaitGroup
	)
	done := make(chan struct{})
	fail := func(err error) {
		once.Do(func() {
			bulkErr = err
			close(done)
		})
	}

	lines := make(chan []byte, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for line := range lines {
				if err := handle.AddDocument(index.AddDocument{Document: line}); err != nil {
					fail(err)
					return
				}
				added.Add(1)
			}
		}()
	}

	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
feed:
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		buf := make([]byte, len(line))
		copy(buf, line)
		select {
		case lines <- buf:
		case <-done:
			break feed
		}
	}
	close(lines)
	wg.Wait()

	if bulkErr != nil {
		errorResponse(w, bulkErr)
		return
	}
	if err := scanner.Err(); err != nil {
		errorResponse(w, types.IOError(err))
		return
	}

	if r.URL.Query().Get("commit") == "true" || handle.StagedBytes() > uint64(s.config.Search.WriterMemory) {
		if err := handle.Commit(); err != nil {
			errorResponse(w, err)
			return
		}
	}
	response(w, http.StatusCreated, map[string]interface{}{
		"docs_added": added.Load(),
	})
}

func response(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Unable to encode response: %v", err)
	}
}

// errorResponse maps the error taxonomy onto HTTP statuses and writes
// the envelope.
func errorResponse(w http.ResponseWriter, err error) {
	var status int
	switch types.KindOf(err) {
	case types.KindUnknownIndex:
		status = http.StatusNotFound
	case types.KindUnknownField, types.KindFieldNotIndexed, types.KindQueryError:
		status = http.StatusBadRequest
	case types.KindAlreadyExists:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}
	response(w, status, types.ErrorResponse{Message: err.Error()})
}
