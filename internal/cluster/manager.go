package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/serialx/hashring"

	"github.com/quarry-search/quarry/config"
	"github.com/quarry-search/quarry/internal/placement"
)

// nodeIDFile holds this node's identifier inside the catalog base path;
// the catalog skips it during refresh.
const nodeIDFile = ".node_id"

// PlacementWriter is the KV side the leader publishes records through.
type PlacementWriter interface {
	Put(ctx context.Context, key string, value []byte) error
}

// Manager handles cluster membership and placement publication.
type Manager struct {
	config    *config.Config
	raft      *raft.Raft
	fsm       *FSM
	ring      *hashring.HashRing
	kv        PlacementWriter
	nodeID    string
	isLeader  bool
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
}

// NewManager creates a new cluster manager. The node id comes from the
// configuration, the .node_id file, or is generated and persisted.
func NewManager(cfg *config.Config, kv PlacementWriter) (*Manager, error) {
	if !cfg.Cluster.Enabled {
		return nil, fmt.Errorf("cluster mode is not enabled")
	}

	nodeID := cfg.Cluster.NodeID
	if nodeID == "" && cfg.Experimental.ID != 0 {
		nodeID = fmt.Sprintf("node-%d", cfg.Experimental.ID)
	}
	if nodeID == "" {
		var err error
		nodeID, err = loadOrCreateNodeID(cfg.Search.Path)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config: cfg,
		kv:     kv,
		nodeID: nodeID,
		ctx:    ctx,
		cancel: cancel,
	}
	return m, nil
}

// loadOrCreateNodeID reads the persisted node identifier, generating one
// on first boot.
func loadOrCreateNodeID(basePath string) (string, error) {
	path := filepath.Join(basePath, nodeIDFile)
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read node id: %w", err)
	}
	id := uuid.NewString()
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return "", fmt.Errorf("failed to create base path: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return "", fmt.Errorf("failed to persist node id: %w", err)
	}
	return id, nil
}

// Start initializes raft and begins leadership monitoring.
func (m *Manager) Start() error {
	if m.isRunning {
		return fmt.Errorf("cluster manager is already running")
	}

	if err := os.MkdirAll(m.config.Cluster.RaftDir, 0755); err != nil {
		return fmt.Errorf("failed to create raft directory: %w", err)
	}

	if err := m.setupRaft(); err != nil {
		return fmt.Errorf("failed to setup raft: %w", err)
	}

	m.ring = hashring.New([]string{m.nodeID})

	go m.monitorLeadership()

	m.isRunning = true
	log.Printf("Cluster manager started for node %s", m.nodeID)
	return nil
}

// Stop shuts down the cluster manager.
func (m *Manager) Stop() error {
	if !m.isRunning {
		return nil
	}

	m.cancel()
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}

	m.isRunning = false
	log.Printf("Cluster manager stopped for node %s", m.nodeID)
	return nil
}

// setupRaft configures and starts the Raft consensus protocol
func (m *Manager) setupRaft() error {
	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(m.nodeID)
	raftConfig.Logger = hclog.New(&hclog.LoggerOptions{Name: "raft"})

	addr, err := net.ResolveTCPAddr("tcp", m.config.Cluster.BindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.config.Cluster.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create raft transport: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.config.Cluster.RaftDir, "raft-log.bolt"))
	if err != nil {
		return fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.config.Cluster.RaftDir, "raft-stable.bolt"))
	if err != nil {
		return fmt.Errorf("failed to create stable store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.config.Cluster.RaftDir, 3, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	m.fsm = NewFSM()

	m.raft, err = raft.NewRaft(raftConfig, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}

	if m.config.Cluster.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raft.ServerID(m.nodeID),
					Address: transport.LocalAddr(),
				},
			},
		}
		m.raft.BootstrapCluster(configuration)
		log.Printf("Bootstrapped cluster with node %s", m.nodeID)
	} else if len(m.config.Cluster.JoinAddr) > 0 {
		for _, addr := range m.config.Cluster.JoinAddr {
			if err := m.joinCluster(addr); err != nil {
				log.Printf("Failed to join cluster at %s: %v", addr, err)
				continue
			}
			log.Printf("Successfully joined cluster at %s", addr)
			break
		}
	}

	return nil
}

// joinCluster attempts to join an existing cluster
func (m *Manager) joinCluster(leaderAddr string) error {
	configFuture := m.raft.GetConfiguration()
	if err := configFuture.Error(); err != nil {
		return err
	}

	for _, srv := range configFuture.Configuration().Servers {
		if srv.ID == raft.ServerID(m.nodeID) {
			log.Printf("Node %s already part of cluster", m.nodeID)
			return nil
		}
	}

	addFuture := m.raft.AddVoter(raft.ServerID(m.nodeID), raft.ServerAddress(m.config.Cluster.BindAddr), 0, 0)
	return addFuture.Error()
}

// monitorLeadership monitors Raft leadership changes
func (m *Manager) monitorLeadership() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			wasLeader := m.isLeader
			m.isLeader = m.raft.State() == raft.Leader
			m.refreshRing()

			if m.isLeader && !wasLeader {
				log.Printf("Node %s became leader", m.nodeID)
				m.republishPlacements()
			} else if !m.isLeader && wasLeader {
				log.Printf("Node %s lost leadership", m.nodeID)
			}
		}
	}
}

// refreshRing rebuilds the consistent-hash ring from the current raft
// membership.
func (m *Manager) refreshRing() {
	configFuture := m.raft.GetConfiguration()
	if err := configFuture.Error(); err != nil {
		return
	}
	var nodes []string
	for _, srv := range configFuture.Configuration().Servers {
		nodes = append(nodes, string(srv.ID))
	}
	if len(nodes) > 0 {
		m.ring = hashring.New(nodes)
	}
}

// AssignIndex computes and publishes the placement record for an index.
// Only the leader publishes; followers return without writing.
func (m *Manager) AssignIndex(ctx context.Context, indexName string) error {
	node, ok := m.ring.GetNode(indexName)
	if !ok {
		node = m.nodeID
	}
	record := placement.NodeData{
		Primaries: []placement.Shard{
			{ShardID: uuid.NewString(), Node: node},
		},
	}

	cmd, err := json.Marshal(Command{Type: SetPlacementCommand, Index: indexName, Record: &record})
	if err != nil {
		return err
	}
	if m.isLeader {
		if err := m.raft.Apply(cmd, 10*time.Second).Error(); err != nil {
			return fmt.Errorf("failed to replicate placement for %s: %w", indexName, err)
		}
		if m.kv != nil {
			data, err := json.Marshal(record)
			if err != nil {
				return err
			}
			if err := m.kv.Put(ctx, "quarry/indexes/"+indexName, data); err != nil {
				return fmt.Errorf("failed to publish placement for %s: %w", indexName, err)
			}
		}
	}
	return nil
}

// republishPlacements rewrites every replicated record to the KV store
// after a leadership change.
func (m *Manager) republishPlacements() {
	if m.kv == nil {
		return
	}
	for _, name := range m.fsm.Indexes() {
		record, ok := m.fsm.GetPlacement(name)
		if !ok {
			continue
		}
		data, err := json.Marshal(record)
		if err != nil {
			continue
		}
		if err := m.kv.Put(m.ctx, "quarry/indexes/"+name, data); err != nil {
			log.Printf("Failed to republish placement for %s: %v", name, err)
		}
	}
}

// IsLeader returns whether this node is the cluster leader
func (m *Manager) IsLeader() bool {
	return m.isLeader
}

// GetNodeID returns the current node's ID
func (m *Manager) GetNodeID() string {
	return m.nodeID
}
