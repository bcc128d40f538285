package fetcher

import (
	"context"

	"spacewatch/internal/spaceweather"
)

// SnapshotFetcher produces one aggregated space-weather snapshot.
type SnapshotFetcher interface {
	FetchAggregateSnapshot(ctx context.Context) (*spaceweather.Snapshot, error)
}
