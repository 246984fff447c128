package turns_test

import (
	"sync"
	"testing"
	"time"

	"github.com/baominh/greeter/internal/turns"
)

func TestCompleteTurn_EmitsUserThenModel(t *testing.T) {
	t.Parallel()

	a := turns.NewAssembler()
	a.AddUser("do you ")
	a.AddUser("have rice")
	a.AddModel("We do! ")
	a.AddModel("Aisle three.")

	entries := a.CompleteTurn()
	if len(entries) != 2 {
		t.Fatalf("got %d entries; want 2", len(entries))
	}
	if entries[0].Role != turns.RoleUser || entries[0].Text != "do you have rice" {
		t.Errorf("entry 0 = %+v; want user utterance", entries[0])
	}
	if entries[1].Role != turns.RoleModel || entries[1].Text != "We do! Aisle three." {
		t.Errorf("entry 1 = %+v; want model utterance", entries[1])
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Error("entries should carry distinct non-empty IDs")
	}
}

func TestCompleteTurn_SkipsEmptySides(t *testing.T) {
	t.Parallel()

	a := turns.NewAssembler()
	a.AddModel("Welcome in!")

	entries := a.CompleteTurn()
	if len(entries) != 1 {
		t.Fatalf("got %d entries; want 1", len(entries))
	}
	if entries[0].Role != turns.RoleModel {
		t.Errorf("role = %q; want model", entries[0].Role)
	}
}

func TestCompleteTurn_WhitespaceOnlyProducesNothing(t *testing.T) {
	t.Parallel()

	a := turns.NewAssembler()
	a.AddUser("   ")
	if entries := a.CompleteTurn(); len(entries) != 0 {
		t.Errorf("whitespace-only buffer produced %d entries", len(entries))
	}
}

func TestCompleteTurn_ResetsBuffersForNextTurn(t *testing.T) {
	t.Parallel()

	a := turns.NewAssembler()
	a.AddUser("first turn")
	a.CompleteTurn()

	a.AddUser("second turn")
	entries := a.CompleteTurn()
	if len(entries) != 1 || entries[0].Text != "second turn" {
		t.Errorf("entries = %+v; want only the second turn", entries)
	}
}

func TestCompleteTurn_UsesInjectedClock(t *testing.T) {
	t.Parallel()

	want := time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC)
	a := turns.NewAssembler(turns.WithClock(func() time.Time { return want }))
	a.AddUser("hello")

	entries := a.CompleteTurn()
	if !entries[0].At.Equal(want) {
		t.Errorf("At = %v; want %v", entries[0].At, want)
	}
}

func TestPending(t *testing.T) {
	t.Parallel()

	a := turns.NewAssembler()
	if a.Pending() {
		t.Error("fresh assembler should have nothing pending")
	}
	a.AddModel("partial reply")
	if !a.Pending() {
		t.Error("buffered fragment should report pending")
	}
	a.CompleteTurn()
	if a.Pending() {
		t.Error("flushed assembler should have nothing pending")
	}
}

func TestConcurrentAddsDoNotRace(t *testing.T) {
	t.Parallel()

	a := turns.NewAssembler()
	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			for range 50 {
				a.AddUser("u")
				a.AddModel("m")
			}
		})
	}
	wg.Wait()

	entries := a.CompleteTurn()
	if len(entries) != 2 {
		t.Fatalf("got %d entries; want 2", len(entries))
	}
	if len(entries[0].Text) != 200 {
		t.Errorf("user text length = %d; want 200", len(entries[0].Text))
	}
}
