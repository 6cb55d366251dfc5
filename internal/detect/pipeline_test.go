package detect

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/striemhq/striem/internal/logging"
	"github.com/striemhq/striem/internal/schema"
	"github.com/striemhq/striem/internal/storage"
)

const authSchemaDoc = `{
  "uid": 3002,
  "name": "authentication",
  "caption": "Authentication",
  "category": "iam",
  "activities": {"1": "Logon"},
  "attributes": {
    "time": {"type": "timestamp_t"},
    "class_uid": {"type": "integer_t"},
    "activity_id": {"type": "integer_t"},
    "user.name": {"type": "username_t"},
    "metadata": {"type": "object_t"}
  }
}`

// Covers the matched-event path end to end: the triggering event and its
// finding both land in storage, in their own partitions.
func TestFindingsAreStoredAlongsideEvents(t *testing.T) {
	schemaDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "authentication.json"), []byte(authSchemaDoc), 0o644))
	catalog, err := schema.Load(schemaDir)
	require.NoError(t, err)

	root := t.TempDir()
	pool := storage.NewPool(catalog, storage.DefaultOptions(root), logging.Default())

	eng, _, _, _ := newTestEngine(t, cloudtrailRule)
	ev := cloudtrailEvent(t)
	findings := eng.Evaluate(ev)
	require.Len(t, findings, 1)

	pool.Write(ev)
	for _, f := range findings {
		pool.Write(f)
	}
	require.NoError(t, pool.Close())

	var files []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && strings.HasSuffix(path, ".parquet") {
			files = append(files, path)
		}
		return nil
	})
	// two rows total, one per partition: the event under authentication,
	// the finding under the generic layout for its class
	require.Len(t, files, 2)

	var sawAuth, sawFinding bool
	for _, f := range files {
		if strings.Contains(f, "authentication") {
			sawAuth = true
		}
		if strings.Contains(f, "class_2004") {
			sawFinding = true
		}
	}
	assert.True(t, sawAuth, "expected the event partition")
	assert.True(t, sawFinding, "expected the finding partition")
}
