package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mediaforge/backend/internal/models"
)

// UsageRecorder records one successful conversion against a user's daily
// quota. Implemented by quota.Gatekeeper.
type UsageRecorder interface {
	RecordCompletion(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// Archiver enqueues a completed output for background archival. Optional.
type Archiver interface {
	EnqueueArchive(ctx context.Context, job models.Job) error
}

// Executor drives one ffmpeg invocation per job and wires progress,
// completion, and failure back into the ledger. Invocations are
// fire-and-forget: Start returns before any engine work happens, and the
// accept path never blocks on the transformation. There is no bound on
// concurrent invocations and no cancellation of a running one.
type Executor struct {
	ledger      *Ledger
	usage       UsageRecorder
	archiver    Archiver
	ffmpegPath  string
	ffprobePath string
	logger      *zap.Logger

	// runEngine is the engine invocation; replaced in tests.
	runEngine func(job models.Job, plan *Plan, onProgress func(float64)) error
}

// NewExecutor creates a conversion executor. archiver may be nil.
func NewExecutor(ledger *Ledger, usage UsageRecorder, archiver Archiver, ffmpegPath, ffprobePath string, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		ledger:      ledger,
		usage:       usage,
		archiver:    archiver,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		logger:      logger,
	}
	e.runEngine = e.runFFmpeg
	return e
}

// Start launches the conversion asynchronously and returns immediately.
// The job record must already exist in the ledger. Exactly one of the
// completed/failed transitions is applied when the engine finishes;
// setup failures take the failed path too, so a job is never left
// processing forever.
func (e *Executor) Start(job models.Job, plan *Plan) {
	go func() {
		err := e.runEngine(job, plan, func(pct float64) {
			e.ledger.SetProgress(job.ID, ClampProgress(pct))
		})
		if err != nil {
			e.fail(job, err)
			return
		}
		e.complete(job, plan)
	}()
}

func (e *Executor) complete(job models.Job, plan *Plan) {
	if !e.ledger.Complete(job.ID, plan.OutputName) {
		return
	}
	e.logger.Info("conversion completed",
		zap.String("job_id", job.ID),
		zap.String("output", plan.OutputName),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.usage.RecordCompletion(ctx, job.UserID, time.Now()); err != nil {
		e.logger.Error("record quota usage failed",
			zap.Error(err),
			zap.String("job_id", job.ID),
			zap.String("user_id", job.UserID.String()),
		)
	}
	if e.archiver != nil {
		done, _ := e.ledger.Get(job.ID)
		if err := e.archiver.EnqueueArchive(ctx, done); err != nil {
			e.logger.Warn("archive enqueue failed", zap.Error(err), zap.String("job_id", job.ID))
		}
	}
}

func (e *Executor) fail(job models.Job, err error) {
	if !e.ledger.Fail(job.ID, err.Error()) {
		return
	}
	e.logger.Error("conversion failed", zap.Error(err), zap.String("job_id", job.ID))

	// Remove any partially written output. Quota is never consumed here.
	if _, statErr := os.Stat(job.OutputPath); statErr == nil {
		if rmErr := os.Remove(job.OutputPath); rmErr != nil {
			e.logger.Warn("remove partial output failed", zap.Error(rmErr), zap.String("path", job.OutputPath))
		}
	}
}

// ClampProgress converts an engine-reported percentage to the stored
// integer form: values below 0 become 0, values above 100 become 100,
// everything else is rounded to the nearest integer.
func ClampProgress(pct float64) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return int(math.Round(pct))
}

// runFFmpeg probes the input duration, runs ffmpeg with the plan's
// directives, and feeds percentage updates parsed from the -progress
// stream to onProgress.
func (e *Executor) runFFmpeg(job models.Job, plan *Plan, onProgress func(float64)) error {
	durationUs := e.probeDurationUs(plan.InputPath)

	args := []string{
		"-y",
		"-nostdin",
		"-v", "warning",
		"-nostats",
		"-progress", "pipe:1",
		"-i", plan.InputPath,
	}
	args = append(args, plan.EngineArgs()...)
	args = append(args, plan.OutputPath)

	cmd := exec.Command(e.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("engine setup: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("engine setup: %w", err)
	}

	ParseProgress(stdout, durationUs, onProgress)

	if err := cmd.Wait(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("engine failure: %s", msg)
	}

	info, err := os.Stat(plan.OutputPath)
	if err != nil {
		return fmt.Errorf("engine failure: output missing: %v", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("engine failure: output is empty")
	}
	return nil
}

// probeDurationUs returns the input duration in microseconds via ffprobe,
// or 0 when it cannot be determined (progress then stays at 0 until the
// terminal transition).
func (e *Executor) probeDurationUs(inputPath string) int64 {
	cmd := exec.Command(e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		e.logger.Warn("ffprobe duration failed", zap.Error(err), zap.String("input", inputPath))
		return 0
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return int64(secs * 1e6)
}

// ParseProgress reads ffmpeg's key=value progress stream and reports a
// percentage for each out_time_us line. durationUs <= 0 disables
// reporting since no percentage can be computed.
func ParseProgress(r io.Reader, durationUs int64, onProgress func(float64)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || key != "out_time_us" {
			continue
		}
		if durationUs <= 0 {
			continue
		}
		cur, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		onProgress(float64(cur) / float64(durationUs) * 100)
	}
}
