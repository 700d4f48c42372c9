package scene

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/infrastructure/database"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRepositoryCreateAndGet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	s := validScene()
	s.Description = "dim the lights"
	s.HighUrgency = true
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Name != s.Name || got.Description != s.Description {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if !got.HighUrgency || !got.Active {
		t.Error("flags lost in round-trip")
	}
	if len(got.Triggers) != 1 || len(got.Actions) != 1 {
		t.Fatalf("triggers/actions lost: %d/%d", len(got.Triggers), len(got.Actions))
	}
	if got.Triggers[0].Kind != TriggerDeviceProperty {
		t.Errorf("trigger kind = %q", got.Triggers[0].Kind)
	}
	if v, ok := got.Actions[0].Value.Int(); !ok || v != 10 {
		t.Errorf("action value = %#v", got.Actions[0].Value)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrSceneNotFound", err)
	}
}

func TestRepositoryDuplicateCreate(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	s := validScene()
	if err := repo.Create(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(ctx, s); !errors.Is(err, ErrSceneExists) {
		t.Errorf("duplicate create error = %v, want ErrSceneExists", err)
	}
}

func TestRepositoryListActive(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	active := validScene()
	inactive := validScene()
	inactive.Name = "Disabled"
	inactive.Active = false
	for _, s := range []*Scene{active, inactive} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("List() len = %d, want 2", len(all))
	}

	got, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != active.ID {
		t.Errorf("ListActive() = %v", got)
	}
}

func TestRepositoryUpdate(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	s := validScene()
	if err := repo.Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	s.Name = "Renamed"
	s.Actions = append(s.Actions, Action{
		DeviceID: "light-2",
		Property: device.PropPower,
		Value:    device.BoolValue(false),
		DelayMs:  2000,
	})
	if err := repo.Update(ctx, s); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, err := repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Renamed" || len(got.Actions) != 2 {
		t.Errorf("update not applied: %+v", got)
	}
	if got.Actions[1].Delay() != 2*time.Second {
		t.Errorf("delay = %v, want 2s", got.Actions[1].Delay())
	}

	ghost := validScene()
	if err := repo.Update(ctx, ghost); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("update missing error = %v, want ErrSceneNotFound", err)
	}
}

func TestRepositoryDelete(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	s := validScene()
	if err := repo.Create(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := repo.Delete(ctx, s.ID); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("second delete error = %v, want ErrSceneNotFound", err)
	}
}

func TestRepositoryMarkExecuted(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	s := validScene()
	if err := repo.Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := repo.MarkExecuted(ctx, s.ID, at); err != nil {
		t.Fatalf("MarkExecuted() error: %v", err)
	}
	if err := repo.MarkExecuted(ctx, s.ID, at.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetByID(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ExecutionCount != 2 {
		t.Errorf("execution count = %d, want 2", got.ExecutionCount)
	}
	if got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(at.Add(time.Minute)) {
		t.Errorf("last executed = %v", got.LastExecutedAt)
	}
}
