package trigger

import (
	"context"
	"fmt"
	"log"
	"time"

	"syncbridge/internal/metrics"
	"syncbridge/internal/store"
)

// PurgeLogs deletes trigger logs older than retentionDays and returns the
// number removed. retentionDays <= 0 disables the purge.
func PurgeLogs(ctx context.Context, s *store.Store, retentionDays int, now time.Time) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	pb := s.Dialect.NewParamBuilder()
	n, err := store.Exec(ctx, s.DB,
		fmt.Sprintf("DELETE FROM _trigger_logs WHERE executed_at < %s", pb.Add(s.Dialect.TimeParam(cutoff))),
		pb.Params()...)
	if err != nil {
		return 0, fmt.Errorf("purge trigger logs: %w", err)
	}
	return n, nil
}

// RunPurge is the one-shot startup sweep. Failures are logged and swallowed.
func RunPurge(ctx context.Context, s *store.Store, retentionDays int, sink metrics.Sink) {
	n, err := PurgeLogs(ctx, s, retentionDays, time.Now())
	if err != nil {
		log.Printf("ERROR: trigger log cleanup: %v", err)
		return
	}
	if sink != nil {
		sink.LogsPurged(n)
	}
	if n > 0 {
		log.Printf("Trigger log cleanup: deleted %d entries older than %d days", n, retentionDays)
	}
}
