package index

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/index/scorch"

	"github.com/quarry-search/quarry/config"
	"github.com/quarry-search/quarry/internal/schema"
	"github.com/quarry-search/quarry/internal/types"
)

// schemaFile is persisted inside the index directory so the catalog can
// rebind the schema when it rediscovers the index on disk.
const schemaFile = "schema.json"

// Open creates or opens the index directory basePath/name, binds the
// schema, applies the merge policy and initializes the single writer
// with a zero opstamp.
func Open(basePath, name string, sch *schema.Schema, cfg config.SearchConfig) (*LocalIndex, error) {
	dir := filepath.Join(basePath, name)
	runtime := mergePolicyConfig(cfg.MergePolicy)

	idx, err := bleve.OpenUsing(dir, runtime)
	if err != nil {
		idx, err = bleve.NewUsing(dir, sch.Mapping(), scorch.Name, scorch.Name, runtime)
		if err != nil {
			return nil, types.IOError(err)
		}
	}

	if err := persistSchema(dir, sch); err != nil {
		idx.Close()
		return nil, err
	}

	return &LocalIndex{
		name:     name,
		index:    idx,
		schema:   sch,
		settings: cfg,
		batch:    idx.NewBatch(),
	}, nil
}

// mergePolicyConfig translates the configured merge policy into the
// engine's runtime options. An empty policy keeps the engine default.
func mergePolicyConfig(mp config.MergePolicyConfig) map[string]interface{} {
	runtime := map[string]interface{}{}
	if mp.Policy != "" && len(mp.Options) > 0 {
		runtime["scorchMergePlanOptions"] = mp.Options
	}
	return runtime
}

func persistSchema(dir string, sch *schema.Schema) error {
	path := filepath.Join(dir, schemaFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := json.Marshal(sch)
	if err != nil {
		return types.Internal("schema does not serialize: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return types.IOError(err)
	}
	return nil
}

// loadSchema reads the schema persisted alongside the engine's files.
func loadSchema(dir string) (*schema.Schema, error) {
	data, err := os.ReadFile(filepath.Join(dir, schemaFile))
	if err != nil {
		return nil, types.IOError(err)
	}
	return schema.Parse(data)
}
