// Package janitor permanently removes mail that has sat in the trash longer
// than the retention window.
package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/metrics"
)

// Purger deletes trashed threads and returns the storage paths of their
// attachments. db.MailStore implements it.
type Purger interface {
	PurgeTrashed(ctx context.Context, retention time.Duration) (int64, []string, error)
}

// BlobDeleter is implemented by storage.LocalBlobs.
type BlobDeleter interface {
	Delete(ctx context.Context, storagePath string) error
}

type Janitor struct {
	purger    Purger
	blobs     BlobDeleter
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

func New(purger Purger, blobs BlobDeleter, retention, interval time.Duration, logger *zap.Logger) *Janitor {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		purger:    purger,
		blobs:     blobs,
		retention: retention,
		interval:  interval,
		logger:    logger.Named("janitor"),
	}
}

// Run sweeps once right away and then on every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("starting trash janitor",
		zap.Duration("interval", j.interval),
		zap.Duration("retention", j.retention),
	)
	j.sweepAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("trash janitor stopped")
			return nil
		case <-ticker.C:
			j.sweepAndLog(ctx)
		}
	}
}

// Sweep purges once. Blob deletion failures are logged and skipped; the rows
// are already gone, so a leftover file is only wasted disk.
func (j *Janitor) Sweep(ctx context.Context) (threads int64, blobs int, err error) {
	threads, paths, err := j.purger.PurgeTrashed(ctx, j.retention)
	if err != nil {
		return 0, 0, err
	}
	metrics.TrashPurged.WithLabelValues("thread").Add(float64(threads))

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := j.blobs.Delete(ctx, path); err != nil {
			j.logger.Warn("failed to delete attachment blob", zap.String("path", path), zap.Error(err))
			continue
		}
		blobs++
	}
	metrics.TrashPurged.WithLabelValues("blob").Add(float64(blobs))

	return threads, blobs, nil
}

func (j *Janitor) sweepAndLog(ctx context.Context) {
	threads, blobs, err := j.Sweep(ctx)
	if err != nil {
		j.logger.Error("failed to purge trash", zap.Error(err))
		return
	}
	if threads > 0 || blobs > 0 {
		j.logger.Info("purged trash", zap.Int64("threads", threads), zap.Int("blobs", blobs))
	}
}
