package storage

import (
	"fmt"
	"path/filepath"
	"time"
)

// PartitionKey identifies the unit of writer ownership: one OCSF class and
// activity within one date bucket.
type PartitionKey struct {
	ClassUID   int64
	ActivityID int64
	Bucket     time.Time
}

// String renders the key for logs and metrics.
func (k PartitionKey) String() string {
	return fmt.Sprintf("%d/%d/%s", k.ClassUID, k.ActivityID, k.Bucket.Format("2006-01-02T15"))
}

// newPartitionKey truncates the event time to the configured grain. Events
// without a usable time land in the current bucket.
func newPartitionKey(classUID, activityID int64, ts time.Time, grain time.Duration) PartitionKey {
	if ts.IsZero() {
		ts = time.Now()
	}
	return PartitionKey{
		ClassUID:   classUID,
		ActivityID: activityID,
		Bucket:     ts.UTC().Truncate(grain),
	}
}

// dir returns the partition's directory below the storage root:
// <class_name>/<activity_name>/<YYYY>/<MM>/<DD>.
func (k PartitionKey) dir(root, className, activityName string) string {
	return filepath.Join(
		root,
		className,
		activityName,
		fmt.Sprintf("%04d", k.Bucket.Year()),
		fmt.Sprintf("%02d", k.Bucket.Month()),
		fmt.Sprintf("%02d", k.Bucket.Day()),
	)
}
