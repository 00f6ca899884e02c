package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// Partition keys of the archive layout, outermost first.
var partitionKeys = []string{"record_kind", "chat_id", "day"}

// NewDataset opens the archive dataset on factory.
// Reads and writes share one codec and layout.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// NewReadDatasetFS opens the archive dataset under rootPath for reading.
func NewReadDatasetFS(dataset, rootPath string) (lode.Dataset, error) {
	return NewDataset(dataset, lode.NewFSFactory(rootPath))
}

// NewReadDatasetS3 opens the archive dataset on S3 for reading.
func NewReadDatasetS3(ctx context.Context, dataset string, s3cfg S3Config) (lode.Dataset, error) {
	factory, err := s3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewDataset(dataset, factory)
}

// scan calls fn with every record of kind in chatID's partition.
// Snapshots may overlap, so callers dedupe on a record key.
func (a *Archive) scan(ctx context.Context, kind, chatID string, fn func(map[string]any) error) error {
	snapshots, err := a.dataset.Snapshots(ctx)
	if err != nil {
		if isEmptyDataset(err) {
			return nil
		}
		return WrapReadError(err, a.config.Dataset+"/snapshots")
	}

	for _, snap := range snapshots {
		if !snapshotMatchesFilter(snap, "record_kind", kind) {
			continue
		}
		if !snapshotMatchesFilter(snap, "chat_id", chatID) {
			continue
		}

		data, err := a.dataset.Read(ctx, snap.ID)
		if err != nil {
			return WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", a.config.Dataset, snap.ID))
		}

		// Manifest paths are a coarse pre-filter; record fields decide.
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if toString(record["record_kind"]) != kind {
				continue
			}
			if chatID != "" && toString(record["chat_id"]) != chatID {
				continue
			}
			if err := fn(record); err != nil {
				return err
			}
		}
	}
	return nil
}

// isEmptyDataset reports whether a snapshot listing failed only because
// nothing has been written yet.
func isEmptyDataset(err error) bool {
	if errors.Is(classifyError(err), ErrNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no snapshots")
}

// snapshotMatchesFilter checks if a snapshot's file paths match
// the given partition key=value filter.
func snapshotMatchesFilter(snap *lode.Snapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks if a hive-partitioned path contains an exact
// key=value segment, so chat_id=c-1 never matches chat_id=c-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
