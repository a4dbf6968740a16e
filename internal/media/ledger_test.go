package media

import (
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/mediaforge/backend/internal/models"
)

func TestLedgerCreateStartsProcessing(t *testing.T) {
	ledger := NewLedger()
	job := ledger.Create(uuid.New(), "in.mov", "out.mp4")

	got, ok := ledger.Get(job.ID)
	if !ok {
		t.Fatal("created job not found")
	}
	if got.Status != models.JobStatusProcessing {
		t.Errorf("status = %q, want processing", got.Status)
	}
	if got.Progress != 0 {
		t.Errorf("progress = %d, want 0", got.Progress)
	}
	if got.OutputFileName != "" || got.Error != "" {
		t.Errorf("fresh job has outputFileName=%q error=%q", got.OutputFileName, got.Error)
	}
}

func TestLedgerGetUnknown(t *testing.T) {
	ledger := NewLedger()
	if _, ok := ledger.Get("nope"); ok {
		t.Fatal("expected not found for unknown id")
	}
}

func TestLedgerTerminalTransitionHappensOnce(t *testing.T) {
	ledger := NewLedger()
	job := ledger.Create(uuid.New(), "in.mov", "out.mp4")

	if !ledger.Complete(job.ID, "out.mp4") {
		t.Fatal("first terminal transition refused")
	}
	// A late error callback must not overwrite the completed state.
	if ledger.Fail(job.ID, "boom") {
		t.Fatal("Fail succeeded on a completed job")
	}
	got, _ := ledger.Get(job.ID)
	if got.Status != models.JobStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Error != "" {
		t.Errorf("error set on completed job: %q", got.Error)
	}
	if got.Progress != 100 || got.OutputFileName != "out.mp4" {
		t.Errorf("completed snapshot wrong: %+v", got)
	}

	// Same the other way around.
	job2 := ledger.Create(uuid.New(), "in.mov", "out.mp4")
	if !ledger.Fail(job2.ID, "engine exploded") {
		t.Fatal("first terminal transition refused")
	}
	if ledger.Complete(job2.ID, "out.mp4") {
		t.Fatal("Complete succeeded on a failed job")
	}
	got2, _ := ledger.Get(job2.ID)
	if got2.Status != models.JobStatusFailed || got2.Error != "engine exploded" {
		t.Errorf("failed snapshot wrong: %+v", got2)
	}
}

func TestLedgerProgressIgnoredAfterTerminal(t *testing.T) {
	ledger := NewLedger()
	job := ledger.Create(uuid.New(), "in.mov", "out.mp4")
	ledger.Complete(job.ID, "out.mp4")

	ledger.SetProgress(job.ID, 10)
	got, _ := ledger.Get(job.ID)
	if got.Progress != 100 {
		t.Errorf("progress = %d after terminal, want 100", got.Progress)
	}
}

func TestLedgerConcurrentUpdates(t *testing.T) {
	ledger := NewLedger()
	job := ledger.Create(uuid.New(), "in.mov", "out.mp4")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(pct int) {
			defer wg.Done()
			ledger.SetProgress(job.ID, pct)
		}(i * 2)
		go func() {
			defer wg.Done()
			snap, ok := ledger.Get(job.ID)
			if !ok {
				t.Error("job vanished")
				return
			}
			if snap.Status != models.JobStatusProcessing {
				t.Errorf("unexpected status %q", snap.Status)
			}
		}()
	}
	wg.Wait()
}
