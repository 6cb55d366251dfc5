package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authenticationSchema = `{
  "uid": 3002,
  "name": "authentication",
  "caption": "Authentication",
  "category": "iam",
  "activities": {"1": "Logon", "2": "Logoff"},
  "attributes": {
    "time": {"type": "timestamp_t", "requirement": "required"},
    "class_uid": {"type": "integer_t", "requirement": "required"},
    "activity_id": {"type": "integer_t"},
    "severity_id": {"type": "integer_t"},
    "status_id": {"type": "integer_t"},
    "user.name": {"type": "username_t"},
    "src_endpoint.ip": {"type": "ip_t"},
    "metadata": {"type": "object_t"}
  }
}`

func writeSchemaDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "authentication.json"), []byte(authenticationSchema), 0o644))
	return dir
}

func TestLoadCatalog(t *testing.T) {
	catalog, err := Load(writeSchemaDir(t))
	require.NoError(t, err)

	desc, ok := catalog.Class(3002)
	require.True(t, ok)
	assert.Equal(t, "authentication", desc.Name)
	assert.Equal(t, "iam", desc.Category)
	assert.Equal(t, "logon", desc.ActivityName(1))
	assert.Equal(t, "logoff", desc.ActivityName(2))
	// undeclared activities fall back to the numeric id
	assert.Equal(t, "99", desc.ActivityName(99))

	byPath := make(map[string]Column)
	for _, c := range desc.Columns {
		byPath[c.Path] = c
	}
	assert.Equal(t, TypeTimestamp, byPath["time"].Type)
	assert.False(t, byPath["time"].Nullable)
	assert.Equal(t, TypeInt, byPath["class_uid"].Type)
	assert.Equal(t, TypeString, byPath["user.name"].Type)
	assert.True(t, byPath["user.name"].Nullable)
	assert.Equal(t, TypeJSON, byPath["metadata"].Type)

	assert.Equal(t, []int64{3002}, catalog.Classes())
}

func TestLoadRejectsBrokenSchema(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"name": "no uid"}`), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownType(t *testing.T) {
	dir := t.TempDir()
	doc := `{"uid": 1, "name": "x", "attributes": {"f": {"type": "blob_t"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.json"), []byte(doc), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestGenericDescriptor(t *testing.T) {
	desc := Generic(9999)
	assert.Equal(t, int64(9999), desc.UID)
	assert.Equal(t, "class_9999", desc.Name)
	require.Len(t, desc.Columns, 2)
	assert.Equal(t, "time", desc.Columns[0].Path)
	assert.Equal(t, "raw", desc.Columns[1].Path)
}

func TestSnake(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Authentication", "authentication"},
		{"Network Activity", "network_activity"},
		{"HTTP Activity", "http_activity"},
		{"already_snake", "already_snake"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, snake(tt.in))
	}
}
