package lode

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when no metrics records exist in the dataset.
var ErrNoMetricsFound = errors.New("no metrics records found")

// QueryLatestMetrics returns the most recent archived metrics record,
// optionally restricted to one policy.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, policy string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		if isEmptyDataset(err) {
			return nil, ErrNoMetricsFound
		}
		return nil, WrapReadError(err, "snapshots")
	}

	// Snapshots are ordered by creation time.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "record_kind", RecordKindMetrics) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}

		var latest map[string]any
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetrics {
				continue
			}
			if policy != "" && toString(record["policy"]) != policy {
				continue
			}
			if latest == nil || parseTime(record["recorded_at"]).After(parseTime(latest["recorded_at"])) {
				latest = record
			}
		}
		if latest != nil {
			return latest, nil
		}
	}
	return nil, ErrNoMetricsFound
}
