package coordinator

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"

	"github.com/branchops-labs/branchops-go/internal/domain"
	"github.com/branchops-labs/branchops-go/internal/platform/objectstore"
)

// ArchiveReport stores the aggregate report as a JSON object, keyed by batch
// date and ID so listings stay browsable by day.
func ArchiveReport(ctx context.Context, client *minio.Client, bucket string, report domain.RunReport) (string, error) {
	key := fmt.Sprintf("%s/%s.json", report.StartedAt.Format("2006/01/02"), report.BatchID)
	if err := objectstore.PutJSON(ctx, client, bucket, key, report); err != nil {
		return "", fmt.Errorf("archive report %s: %w", report.BatchID, err)
	}
	return key, nil
}

// ArchiveSnapshot stores one schema snapshot alongside the branch it was
// taken from, for post-hoc drift investigation.
func ArchiveSnapshot(ctx context.Context, client *minio.Client, bucket, branch string, snapshot domain.SchemaSnapshot) (string, error) {
	key := fmt.Sprintf("%s/%s.json", branch, snapshot.TakenAt.Format("20060102T150405Z"))
	if err := objectstore.PutJSON(ctx, client, bucket, key, snapshot); err != nil {
		return "", fmt.Errorf("archive snapshot %s: %w", branch, err)
	}
	return key, nil
}
