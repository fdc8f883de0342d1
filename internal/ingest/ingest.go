package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vitalguard/internal/model"
)

var errBadSample = errors.New("sample missing subject_id")

// SendNonBlocking pushes a sample onto the channel without ever
// stalling the producer. A full channel drops the sample and logs.
func SendNonBlocking(ctx context.Context, out chan<- model.Sample, sample model.Sample, logger *slog.Logger) bool {
	select {
	case out <- sample:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("sample channel full, dropping sample", "subject_id", sample.SubjectID, "timestamp", sample.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func validate(sample *model.Sample) error {
	if sample.SubjectID == "" {
		return errBadSample
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}
	return nil
}
