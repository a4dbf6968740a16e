package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/backend/internal/models"
)

type fakeRecorder struct {
	mu    sync.Mutex
	calls []uuid.UUID
	err   error
}

func (r *fakeRecorder) RecordCompletion(_ context.Context, userID uuid.UUID, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, userID)
	return r.err
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeArchiver struct {
	mu   sync.Mutex
	jobs []models.Job
}

func (a *fakeArchiver) EnqueueArchive(_ context.Context, job models.Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = append(a.jobs, job)
	return nil
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.jobs)
}

func waitTerminal(t *testing.T, ledger *Ledger, jobID string) models.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := ledger.Get(jobID)
		if ok && job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return models.Job{}
}

func TestExecutorSuccessRecordsUsageAndArchives(t *testing.T) {
	ledger := NewLedger()
	recorder := &fakeRecorder{}
	archiver := &fakeArchiver{}
	exec := NewExecutor(ledger, recorder, archiver, "ffmpeg", "ffprobe", nil)

	userID := uuid.New()
	job := ledger.Create(userID, "in.mov", filepath.Join(t.TempDir(), "out.mp4"))
	plan := &Plan{OutputName: "out.mp4", OutputPath: job.OutputPath}

	exec.runEngine = func(_ models.Job, _ *Plan, onProgress func(float64)) error {
		onProgress(42.4)
		return nil
	}
	exec.Start(job, plan)

	done := waitTerminal(t, ledger, job.ID)
	if done.Status != models.JobStatusCompleted {
		t.Fatalf("status = %q, want completed", done.Status)
	}
	if done.Progress != 100 {
		t.Errorf("progress = %d, want 100", done.Progress)
	}
	if done.OutputFileName != "out.mp4" {
		t.Errorf("outputFileName = %q", done.OutputFileName)
	}

	// Usage and archive hooks fire after the terminal transition.
	waitDeadline := time.Now().Add(2 * time.Second)
	for (recorder.count() == 0 || archiver.count() == 0) && time.Now().Before(waitDeadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := recorder.count(); got != 1 {
		t.Errorf("usage recorded %d times, want 1", got)
	}
	if recorder.calls[0] != userID {
		t.Errorf("usage recorded for %s, want %s", recorder.calls[0], userID)
	}
	if got := archiver.count(); got != 1 {
		t.Errorf("archive enqueued %d times, want 1", got)
	}
}

func TestExecutorFailureCleansUpAndSkipsQuota(t *testing.T) {
	ledger := NewLedger()
	recorder := &fakeRecorder{}
	exec := NewExecutor(ledger, recorder, nil, "ffmpeg", "ffprobe", nil)

	outDir := t.TempDir()
	outputPath := filepath.Join(outDir, "out.mp4")
	job := ledger.Create(uuid.New(), "in.mov", outputPath)
	plan := &Plan{OutputName: "out.mp4", OutputPath: outputPath}

	exec.runEngine = func(_ models.Job, _ *Plan, _ func(float64)) error {
		// Simulate a partially written output left behind by the engine.
		if err := os.WriteFile(outputPath, []byte("partial"), 0644); err != nil {
			t.Error(err)
		}
		return errors.New("engine failure: unsupported codec")
	}
	exec.Start(job, plan)

	done := waitTerminal(t, ledger, job.ID)
	if done.Status != models.JobStatusFailed {
		t.Fatalf("status = %q, want failed", done.Status)
	}
	if !strings.Contains(done.Error, "unsupported codec") {
		t.Errorf("error = %q", done.Error)
	}
	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Error("partial output was not removed")
	}
	if got := recorder.count(); got != 0 {
		t.Errorf("usage recorded %d times on failure, want 0", got)
	}
}

func TestClampProgress(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{-5, 0},
		{0, 0},
		{57.4, 57},
		{57.6, 58},
		{99.5, 100},
		{100, 100},
		{100.2, 100},
	}
	for _, tc := range cases {
		if got := ClampProgress(tc.in); got != tc.want {
			t.Errorf("ClampProgress(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseProgress(t *testing.T) {
	stream := strings.Join([]string{
		"frame=10",
		"out_time_us=2500000",
		"progress=continue",
		"out_time_us=not-a-number",
		"out_time_us=10000000",
		"progress=end",
	}, "\n")

	var got []float64
	ParseProgress(strings.NewReader(stream), 10_000_000, func(pct float64) {
		got = append(got, pct)
	})
	if len(got) != 2 {
		t.Fatalf("got %d progress reports, want 2: %v", len(got), got)
	}
	if got[0] != 25 || got[1] != 100 {
		t.Errorf("progress reports = %v, want [25 100]", got)
	}
}

func TestParseProgressWithoutDuration(t *testing.T) {
	calls := 0
	ParseProgress(strings.NewReader("out_time_us=5000000\n"), 0, func(float64) { calls++ })
	if calls != 0 {
		t.Errorf("expected no reports with unknown duration, got %d", calls)
	}
}
