package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldComponent = "component"
	FieldRuleID    = "rule_id"
	FieldSourceID  = "source_id"
	FieldClassUID  = "class_uid"
	FieldPartition = "partition"
	FieldRequestID = "request_id"
	FieldError     = "error"
	FieldPath      = "path"
	FieldCount     = "count"
)

// Component returns a slog attribute for the component name.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// RuleID returns a slog attribute for a Sigma rule ID.
func RuleID(id string) slog.Attr {
	return slog.String(FieldRuleID, id)
}

// SourceID returns a slog attribute for a collector source ID.
func SourceID(id string) slog.Attr {
	return slog.String(FieldSourceID, id)
}

// ClassUID returns a slog attribute for an OCSF class UID.
func ClassUID(uid int64) slog.Attr {
	return slog.Int64(FieldClassUID, uid)
}

// Partition returns a slog attribute for a storage partition key.
func Partition(key string) slog.Attr {
	return slog.String(FieldPartition, key)
}

// RequestID returns a slog attribute for an ingest request ID.
func RequestID(id string) slog.Attr {
	return slog.String(FieldRequestID, id)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Path returns a slog attribute for a filesystem path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Count returns a slog attribute for a generic count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}
