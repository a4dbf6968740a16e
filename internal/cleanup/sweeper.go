// Package cleanup reaps stored files past their retention window. File
// age is the sole deletion criterion: the sweeper never consults job
// state, so an output can be reaped while its job still reads completed.
// That is the "valid for one hour" policy, not an accident.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically deletes files older than the retention window
// from the upload and output directories.
type Sweeper struct {
	dirs     []string
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper over the given directories.
func NewSweeper(dirs []string, maxAge, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		dirs:     dirs,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("retention sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("max_age", s.maxAge),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopping")
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce performs one pass over every directory. A read or delete
// failure on one file is logged and never aborts the rest of the pass.
func (s *Sweeper) SweepOnce() {
	for _, dir := range s.dirs {
		s.sweepDir(dir)
	}
}

func (s *Sweeper) sweepDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Error("read directory failed", zap.Error(err), zap.String("dir", dir))
		return
	}
	cutoff := s.now().Add(-s.maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("stat file failed", zap.Error(err), zap.String("path", path))
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("delete file failed", zap.Error(err), zap.String("path", path))
			continue
		}
		s.logger.Info("deleted expired file", zap.String("path", path), zap.Time("mod_time", info.ModTime()))
	}
}
