package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/quarry-search/quarry/config"
	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

// nodeIDFile is reserved in the base path for the node identifier and is
// never treated as an index.
const nodeIDFile = ".node_id"

// Catalog maps index names to local handles. Lookups are lock-free;
// handles stay valid for their lifetime even while other entries change.
type Catalog struct {
	basePath string
	settings config.SearchConfig
	handles  sync.Map // name -> *LocalIndex
}

// NewCatalog creates the base path if needed and discovers the indexes
// already on disk.
func NewCatalog(cfg config.SearchConfig) (*Catalog, error) {
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, types.IOError(fmt.Errorf("failed to create base path: %w", err))
	}
	c := &Catalog{basePath: cfg.Path, settings: cfg}
	if err := c.RefreshCatalog(); err != nil {
		return nil, err
	}
	return c, nil
}

// BasePath returns the directory the catalog manages.
func (c *Catalog) BasePath() string { return c.basePath }

// AddIndex creates a new index under the base path and binds a handle.
func (c *Catalog) AddIndex(name string, sch *schema.Schema) error {
	if c.Exists(name) {
		return types.AlreadyExists(name)
	}
	handle, err := Open(c.basePath, name, sch, c.settings)
	if err != nil {
		return err
	}
	if _, raced := c.handles.LoadOrStore(name, handle); raced {
		handle.Close()
		return types.AlreadyExists(name)
	}
	return nil
}

// GetIndex returns the handle bound to name.
func (c *Catalog) GetIndex(name string) (*LocalIndex, error) {
	v, ok := c.handles.Load(name)
	if !ok {
		return nil, types.UnknownIndex(name)
	}
	return v.(*LocalIndex), nil
}

// Exists reports whether a handle is bound to name.
func (c *Catalog) Exists(name string) bool {
	_, ok := c.handles.Load(name)
	return ok
}

// ListIndexes returns the bound names, sorted and deduplicated.
func (c *Catalog) ListIndexes() []string {
	names := []string{}
	c.handles.Range(func(k, _ interface{}) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	out := names[:0]
	for i, n := range names {
		if i == 0 || names[i-1] != n {
			out = append(out, n)
		}
	}
	return out
}

// RefreshCatalog scans the base path and binds a handle for every index
// directory that is not already bound. A directory that fails to open
// aborts the whole refresh, leaving the catalog as it was.
func (c *Catalog) RefreshCatalog() error {
	entries, err := os.ReadDir(c.basePath)
	if err != nil {
		return types.IOError(err)
	}

	staged := make(map[string]*LocalIndex)
	abort := func() {
		for _, h := range staged {
			h.Close()
		}
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasSuffix(name, nodeIDFile) {
			continue
		}
		if c.Exists(name) {
			continue
		}
		dir := filepath.Join(c.basePath, name)
		sch, err := loadSchema(dir)
		if err != nil {
			abort()
			return types.UnknownIndex(dir)
		}
		handle, err := Open(c.basePath, name, sch, c.settings)
		if err != nil {
			abort()
			return types.UnknownIndex(dir)
		}
		staged[name] = handle
	}

	for name, handle := range staged {
		if _, raced := c.handles.LoadOrStore(name, handle); raced {
			handle.Close()
		}
	}
	return nil
}

// Handles calls fn for every bound handle until fn returns false.
func (c *Catalog) Handles(fn func(h *LocalIndex) bool) {
	c.handles.Range(func(_, v interface{}) bool {
		return fn(v.(*LocalIndex))
	})
}

// Close releases every handle; the catalog is unusable afterwards.
func (c *Catalog) Close() error {
	var firstErr error
	c.handles.Range(func(k, v interface{}) bool {
		if err := v.(*LocalIndex).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.handles.Delete(k)
		return true
	})
	return firstErr
}
