package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/remote-agent-terminal/dashsync/internal/db"
	"github.com/remote-agent-terminal/dashsync/internal/model"
)

func setupTestRepo(t *testing.T) *TaskRepository {
	t.Helper()
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })
	return NewTaskRepository(testDB)
}

func TestTaskRepository_AppendAndList(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	events := []model.TaskEvent{
		{ID: "t1", AgentID: "a1", Status: "queued", Timestamp: 1},
		{ID: "t1", AgentID: "a1", Status: "running", Message: "started", Timestamp: 2},
		{ID: "t2", Status: "queued", Timestamp: 3},
	}
	for _, ev := range events {
		if err := repo.Append(ctx, ev); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	t.Run("list all", func(t *testing.T) {
		got, err := repo.List(ctx, 0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("List() returned %d events, want 3", len(got))
		}
		for i := range events {
			if got[i] != events[i] {
				t.Errorf("event %d = %+v, want %+v", i, got[i], events[i])
			}
		}
	})

	t.Run("list newest", func(t *testing.T) {
		got, err := repo.List(ctx, 2)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(got) != 2 || got[0].Timestamp != 2 || got[1].Timestamp != 3 {
			t.Errorf("List(2) = %+v, want the last two events oldest first", got)
		}
	})

	t.Run("by agent", func(t *testing.T) {
		got, err := repo.ListByAgent(ctx, "a1", 10)
		if err != nil {
			t.Fatalf("ListByAgent() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("ListByAgent() returned %d events, want 2", len(got))
		}
	})

	t.Run("history", func(t *testing.T) {
		got, err := repo.History(ctx, "t1")
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(got) != 2 || got[0].Status != "queued" || got[1].Status != "running" {
			t.Errorf("History() = %+v", got)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		if err := repo.Append(ctx, model.TaskEvent{Status: "x"}); err != model.ErrTaskIDRequired {
			t.Errorf("Append() error = %v, want ErrTaskIDRequired", err)
		}
	})
}

func TestTaskRepository_Prune(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ev := model.TaskEvent{ID: fmt.Sprintf("t%d", i), Status: "done", Timestamp: int64(i)}
		if err := repo.Append(ctx, ev); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	removed, err := repo.Prune(ctx, 4)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 6 {
		t.Errorf("Prune() removed %d, want 6", removed)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 4 {
		t.Errorf("Count() = %d, want 4", count)
	}

	got, _ := repo.List(ctx, 0)
	if got[0].ID != "t6" {
		t.Errorf("oldest kept event = %s, want t6", got[0].ID)
	}
}

// Events written to a file database read back unchanged and in write
// order.
func TestTaskPersistenceProperty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	testDB, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	defer testDB.Close()

	repo := NewTaskRepository(testDB)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	nonEmptyString := gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0 && len(s) <= 100
	})

	properties.Property("appended events round trip through sqlite", prop.ForAll(
		func(id, agentID, status, message string, ts int64) bool {
			if _, err := repo.Prune(ctx, 0); err != nil {
				t.Logf("failed to reset: %v", err)
				return false
			}

			ev := model.TaskEvent{ID: id, AgentID: agentID, Status: status, Message: message, Timestamp: ts}
			if err := repo.Append(ctx, ev); err != nil {
				t.Logf("failed to append: %v", err)
				return false
			}

			got, err := repo.List(ctx, 0)
			if err != nil || len(got) != 1 {
				t.Logf("failed to list: %v (%d events)", err, len(got))
				return false
			}
			return got[0] == ev
		},
		nonEmptyString,
		gen.AlphaString(),
		nonEmptyString,
		gen.AlphaString(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
