package cluster

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/hashicorp/raft"

	"github.com/quarry-search/quarry/internal/placement"
)

func applyCommand(t *testing.T, fsm *FSM, cmd Command) interface{} {
	t.Helper()
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("Failed to marshal command: %v", err)
	}
	return fsm.Apply(&raft.Log{Data: data})
}

func TestFSM_SetAndGetPlacement(t *testing.T) {
	fsm := NewFSM()
	record := placement.NodeData{
		Primaries: []placement.Shard{{ShardID: "s1", Node: "node-a"}},
	}

	result := applyCommand(t, fsm, Command{Type: SetPlacementCommand, Index: "books", Record: &record})
	if _, isErr := result.(error); isErr {
		t.Fatalf("Apply returned error: %v", result)
	}

	got, ok := fsm.GetPlacement("books")
	if !ok {
		t.Fatal("Expected placement for books")
	}
	if len(got.Primaries) != 1 || got.Primaries[0].Node != "node-a" {
		t.Errorf("Expected node-a primary, got %#v", got)
	}
}

func TestFSM_DeletePlacement(t *testing.T) {
	fsm := NewFSM()
	record := placement.NodeData{Primaries: []placement.Shard{{ShardID: "s1", Node: "node-a"}}}
	applyCommand(t, fsm, Command{Type: SetPlacementCommand, Index: "books", Record: &record})
	applyCommand(t, fsm, Command{Type: DeletePlacementCommand, Index: "books"})

	if _, ok := fsm.GetPlacement("books"); ok {
		t.Error("Expected placement to be removed")
	}
}

func TestFSM_InvalidCommands(t *testing.T) {
	fsm := NewFSM()

	if result := fsm.Apply(&raft.Log{Data: []byte("not json")}); result == nil {
		t.Error("Expected unmarshalable command to fail")
	} else if _, isErr := result.(error); !isErr {
		t.Errorf("Expected error result, got %#v", result)
	}

	result := applyCommand(t, fsm, Command{Type: SetPlacementCommand, Index: "books"})
	if _, isErr := result.(error); !isErr {
		t.Error("Expected set without record to fail")
	}

	result = applyCommand(t, fsm, Command{Type: CommandType(99), Index: "books"})
	if _, isErr := result.(error); !isErr {
		t.Error("Expected unknown command type to fail")
	}
}

type memorySink struct {
	bytes.Buffer
	canceled bool
}

func (s *memorySink) ID() string    { return "test" }
func (s *memorySink) Cancel() error { s.canceled = true; return nil }
func (s *memorySink) Close() error  { return nil }

func TestFSM_SnapshotRestore(t *testing.T) {
	fsm := NewFSM()
	record := placement.NodeData{Primaries: []placement.Shard{{ShardID: "s1", Node: "node-a"}}}
	applyCommand(t, fsm, Command{Type: SetPlacementCommand, Index: "books", Record: &record})

	snapshot, err := fsm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	sink := &memorySink{}
	if err := snapshot.Persist(sink); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	snapshot.Release()

	restored := NewFSM()
	if err := restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	got, ok := restored.GetPlacement("books")
	if !ok {
		t.Fatal("Expected restored placement for books")
	}
	if got.Primaries[0].Node != "node-a" {
		t.Errorf("Expected node-a after restore, got %#v", got)
	}
}
