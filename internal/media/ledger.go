package media

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/backend/internal/models"
)

// Ledger is the single source of truth for job status and progress. All
// mutations are whole-record atomic: a reader always sees a record from
// before or after an update, never a mix. Completed and failed are
// terminal; transitions out of them are refused.
type Ledger struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewLedger creates an empty in-memory job ledger.
func NewLedger() *Ledger {
	return &Ledger{jobs: make(map[string]*models.Job)}
}

// Create allocates a new job in processing state with progress 0 and
// returns a snapshot. The record exists before any engine work begins.
func (l *Ledger) Create(userID uuid.UUID, inputPath, outputPath string) models.Job {
	job := &models.Job{
		ID:         uuid.NewString(),
		UserID:     userID,
		Status:     models.JobStatusProcessing,
		Progress:   0,
		InputPath:  inputPath,
		OutputPath: outputPath,
		CreatedAt:  time.Now(),
	}
	l.mu.Lock()
	l.jobs[job.ID] = job
	l.mu.Unlock()
	return *job
}

// Get returns a snapshot of the job, or false when the id is unknown.
func (l *Ledger) Get(id string) (models.Job, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	job, ok := l.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return *job, true
}

// List returns snapshots of every job in the ledger.
func (l *Ledger) List() []models.Job {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Job, 0, len(l.jobs))
	for _, job := range l.jobs {
		out = append(out, *job)
	}
	return out
}

// SetProgress records a progress percentage for a job still processing.
// Updates on unknown or terminal jobs are dropped. Values are not
// required to be monotonic; a later lower value overwrites an earlier
// higher one.
func (l *Ledger) SetProgress(id string, pct int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	job.Progress = pct
}

// Complete marks the job completed with progress 100 and the output file
// name. Returns false without mutating when the job is unknown or
// already terminal, so the terminal transition happens at most once.
func (l *Ledger) Complete(id, outputFileName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok || job.Status.Terminal() {
		return false
	}
	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.OutputFileName = outputFileName
	return true
}

// Fail marks the job failed with the engine's error message. Returns
// false without mutating when the job is unknown or already terminal.
func (l *Ledger) Fail(id, errMsg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok || job.Status.Terminal() {
		return false
	}
	job.Status = models.JobStatusFailed
	job.Error = errMsg
	return true
}
