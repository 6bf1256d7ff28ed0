package execution

import (
	"fmt"
	"sync"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
)

func TestJournalSaveGetList(t *testing.T) {
	journal := openTestJournal(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	running := newExecution("exe-1", testPlan(t, "plan-1", 1), now)
	running.Steps[0].State = StepAwaitingSignature
	running.fold()
	if err := journal.Save(running); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	done := newExecution("exe-2", testPlan(t, "plan-2", 1), now.Add(time.Minute))
	done.Steps[0].State = StepConfirmed
	done.fold()
	if err := journal.Save(done); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := journal.Get("exe-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PlanID != "plan-1" || got.State != StateRunning {
		t.Fatalf("unexpected execution: %+v", got)
	}

	completed, err := journal.List("completed", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != "exe-2" {
		t.Fatalf("unexpected completed list: %+v", completed)
	}
	all, err := journal.List("", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "exe-2" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	if err := journal.Delete("exe-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, err = journal.Get("exe-1")
	if !clierr.IsCode(err, clierr.CodeNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestJournalRejectsMissingID(t *testing.T) {
	journal := openTestJournal(t)
	if err := journal.Save(Execution{}); err == nil {
		t.Fatal("expected error for execution without id")
	}
}

func TestJournalAcquireSerializesSharedHandle(t *testing.T) {
	journal := openTestJournal(t)
	release, err := journal.acquire()
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		second, err := journal.acquire()
		if err == nil {
			second()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired the journal while the first still held it")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second writer never acquired the journal")
	}
}

func TestJournalConcurrentSavesFromOneHandle(t *testing.T) {
	journal := openTestJournal(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := testPlan(t, "plan-1", 1)
	var wg sync.WaitGroup
	errCh := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			exec := newExecution(fmt.Sprintf("exe-%d", i), plan, now)
			if err := journal.Save(exec); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
	all, err := journal.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(all) != 16 {
		t.Fatalf("expected 16 journaled executions, got %d", len(all))
	}
}
