package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/baominh/greeter/internal/store"
	"github.com/baominh/greeter/internal/turns"
)

func seedStore(t *testing.T) *store.MemStore {
	t.Helper()
	s := store.NewMemStore()
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	err := s.SaveEntries(ctx, "session-1", []turns.Entry{
		{ID: "e1", Role: turns.RoleUser, Text: "do you have rice", At: base},
		{ID: "e2", Role: turns.RoleModel, Text: "Aisle three.", At: base},
	})
	if err != nil {
		t.Fatalf("SaveEntries: %v", err)
	}
	err = s.SaveEntries(ctx, "session-2", []turns.Entry{
		{ID: "e3", Role: turns.RoleUser, Text: "where is the milk", At: base.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("SaveEntries: %v", err)
	}
	return s
}

func TestMemStore_ListAll(t *testing.T) {
	t.Parallel()

	s := seedStore(t)
	got, err := s.List(context.Background(), store.Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries; want 3", len(got))
	}
}

func TestMemStore_FilterBySession(t *testing.T) {
	t.Parallel()

	s := seedStore(t)
	got, err := s.List(context.Background(), store.Query{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries; want 2", len(got))
	}
	for _, e := range got {
		if e.SessionID != "session-1" {
			t.Errorf("entry %s from session %s", e.ID, e.SessionID)
		}
	}
}

func TestMemStore_FilterByRoleAndSince(t *testing.T) {
	t.Parallel()

	s := seedStore(t)
	got, err := s.List(context.Background(), store.Query{
		Role:  turns.RoleUser,
		Since: time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e3" {
		t.Fatalf("got %+v; want only e3", got)
	}
}

func TestMemStore_Limit(t *testing.T) {
	t.Parallel()

	s := seedStore(t)
	got, err := s.List(context.Background(), store.Query{Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries; want 1", len(got))
	}
}

func TestMemStore_SaveEmptyIsNoop(t *testing.T) {
	t.Parallel()

	s := store.NewMemStore()
	if err := s.SaveEntries(context.Background(), "s", nil); err != nil {
		t.Fatalf("SaveEntries(nil): %v", err)
	}
	got, _ := s.List(context.Background(), store.Query{})
	if len(got) != 0 {
		t.Error("empty save should store nothing")
	}
}
