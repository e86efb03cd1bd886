package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/quarry-search/quarry/internal/placement"
)

// CommandType represents the type of command.
type CommandType int

// Command types for the FSM
const (
	// SetPlacementCommand binds a placement record to an index
	SetPlacementCommand CommandType = iota
	// DeletePlacementCommand removes an index's placement record
	DeletePlacementCommand
)

// Command represents a command in the Raft log.
type Command struct {
	Type   CommandType         `json:"type"`
	Index  string              `json:"index"`
	Record *placement.NodeData `json:"record,omitempty"`
}

// FSM replicates the per-index placement records across the cluster.
type FSM struct {
	mutex      sync.RWMutex
	placements map[string]placement.NodeData // index -> record
}

// NewFSM creates a new FSM.
func NewFSM() *FSM {
	return &FSM{
		placements: make(map[string]placement.NodeData),
	}
}

// Apply applies a Raft log entry to the FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	switch cmd.Type {
	case SetPlacementCommand:
		if cmd.Record == nil {
			return fmt.Errorf("set placement for %s carries no record", cmd.Index)
		}
		f.placements[cmd.Index] = *cmd.Record
		return fmt.Sprintf("placement for %s updated", cmd.Index)

	case DeletePlacementCommand:
		delete(f.placements, cmd.Index)
		return fmt.Sprintf("placement for %s removed", cmd.Index)

	default:
		return fmt.Errorf("unknown command type: %v", cmd.Type)
	}
}

// Snapshot returns a snapshot of the current state.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	placements := make(map[string]placement.NodeData, len(f.placements))
	for k, v := range f.placements {
		placements[k] = v
	}
	return &FSMSnapshot{placements: placements}, nil
}

// Restore restores the FSM from a snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var state struct {
		Placements map[string]placement.NodeData `json:"placements"`
	}
	if err := json.NewDecoder(rc).Decode(&state); err != nil {
		return err
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.placements = state.Placements
	if f.placements == nil {
		f.placements = make(map[string]placement.NodeData)
	}
	return nil
}

// GetPlacement returns the replicated record for an index.
func (f *FSM) GetPlacement(index string) (placement.NodeData, bool) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	record, ok := f.placements[index]
	return record, ok
}

// Indexes returns every index with a replicated placement record.
func (f *FSM) Indexes() []string {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	names := make([]string, 0, len(f.placements))
	for name := range f.placements {
		names = append(names, name)
	}
	return names
}

// FSMSnapshot implements the raft.FSMSnapshot interface.
type FSMSnapshot struct {
	placements map[string]placement.NodeData
}

// Persist saves the snapshot to the given sink.
func (s *FSMSnapshot) Persist(sink raft.SnapshotSink) error {
	state := map[string]interface{}{
		"placements": s.placements,
	}
	if err := json.NewEncoder(sink).Encode(state); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release is called when the snapshot is no longer needed.
func (s *FSMSnapshot) Release() {}
