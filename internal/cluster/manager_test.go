package cluster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quarry-search/quarry/config"
)

func TestLoadOrCreateNodeID_Persists(t *testing.T) {
	basePath := t.TempDir()

	first, err := loadOrCreateNodeID(basePath)
	if err != nil {
		t.Fatalf("Failed to create node id: %v", err)
	}
	if first == "" {
		t.Fatal("Expected a generated node id")
	}

	second, err := loadOrCreateNodeID(basePath)
	if err != nil {
		t.Fatalf("Failed to reload node id: %v", err)
	}
	if first != second {
		t.Errorf("Expected the node id to persist, got %q then %q", first, second)
	}

	if _, err := os.Stat(filepath.Join(basePath, nodeIDFile)); err != nil {
		t.Errorf("Expected .node_id file to exist: %v", err)
	}
}

func TestLoadOrCreateNodeID_ReadsExisting(t *testing.T) {
	basePath := t.TempDir()
	if err := os.WriteFile(filepath.Join(basePath, nodeIDFile), []byte("node-42\n"), 0644); err != nil {
		t.Fatalf("Failed to seed node id: %v", err)
	}

	id, err := loadOrCreateNodeID(basePath)
	if err != nil {
		t.Fatalf("Failed to read node id: %v", err)
	}
	if id != "node-42" {
		t.Errorf("Expected node-42, got %q", id)
	}
}

func TestNewManager_RequiresClusterMode(t *testing.T) {
	cfg := &config.Config{}
	if _, err := NewManager(cfg, nil); err == nil {
		t.Error("Expected manager creation to fail with cluster mode disabled")
	}
}

func TestNewManager_UsesConfiguredNodeID(t *testing.T) {
	cfg := &config.Config{
		Cluster: config.ClusterConfig{Enabled: true, NodeID: "configured"},
		Search:  config.SearchConfig{Path: t.TempDir()},
	}
	m, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if m.GetNodeID() != "configured" {
		t.Errorf("Expected configured node id, got %q", m.GetNodeID())
	}
}
