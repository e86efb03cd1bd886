package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Search.Path != "./data" {
		t.Errorf("Expected default path ./data, got %s", cfg.Search.Path)
	}
	if cfg.Search.DefaultResultLimit != 100 {
		t.Errorf("Expected default result limit 100, got %d", cfg.Search.DefaultResultLimit)
	}
	if cfg.Search.WriterMemory != 200*1024*1024 {
		t.Errorf("Expected default writer memory, got %d", cfg.Search.WriterMemory)
	}
	if cfg.Search.MergePolicy.Policy != "log_merge" {
		t.Errorf("Expected default merge policy log_merge, got %s", cfg.Search.MergePolicy.Policy)
	}
	if cfg.Cluster.Enabled || cfg.Placement.Enabled {
		t.Error("Expected cluster and placement disabled by default")
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9200
search:
  path: /var/lib/quarry
  default_result_limit: 25
  merge_policy:
    policy: log_merge
    options:
      maxSegmentsPerTier: 5
experimental_features:
  id: 7
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("Expected port 9200, got %d", cfg.Server.Port)
	}
	if cfg.Search.Path != "/var/lib/quarry" {
		t.Errorf("Expected configured path, got %s", cfg.Search.Path)
	}
	if cfg.Search.DefaultResultLimit != 25 {
		t.Errorf("Expected limit 25, got %d", cfg.Search.DefaultResultLimit)
	}
	if len(cfg.Search.MergePolicy.Options) != 1 {
		t.Errorf("Expected merge policy options, got %#v", cfg.Search.MergePolicy.Options)
	}
	if cfg.Experimental.ID != 7 {
		t.Errorf("Expected experimental id 7, got %d", cfg.Experimental.ID)
	}
}
