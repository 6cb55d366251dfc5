package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent(t *testing.T) *Event {
	t.Helper()
	ev, err := Decode([]byte(`{
		"class_uid": 3002,
		"activity_id": 1,
		"time": 1700000000000,
		"metadata": {"product": {"vendor_name": "AWS", "name": "CloudTrail"}},
		"user": {"name": "alice"}
	}`))
	require.NoError(t, err)
	return ev
}

func TestEventAccessors(t *testing.T) {
	ev := sampleEvent(t)

	uid, ok := ev.ClassUID()
	require.True(t, ok)
	assert.Equal(t, int64(3002), uid)

	act, ok := ev.ActivityID()
	require.True(t, ok)
	assert.Equal(t, int64(1), act)

	assert.Equal(t, int64(1700000000000), ev.TimeMillis())
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), ev.Time())
	assert.NotEqual(t, "", ev.UID.String())
}

func TestLogsourceFromProductBlock(t *testing.T) {
	ev := sampleEvent(t)
	ls := ev.Logsource()
	assert.Equal(t, "AWS", ls.Product)
	assert.Equal(t, "CloudTrail", ls.Service)
	assert.Equal(t, "", ls.Category)
}

func TestDecodeFoldsBodyLogsource(t *testing.T) {
	// the folded shape: remap transforms wrote the taxonomy into the
	// record's own metadata map
	ev, err := Decode([]byte(`{
		"class_uid": 1007,
		"metadata": {
			"logsource": {"category": "process_creation", "product": "windows"},
			"product": {"vendor_name": "Microsoft", "name": "Sysmon"}
		}
	}`))
	require.NoError(t, err)

	ls := ev.Logsource()
	assert.Equal(t, "process_creation", ls.Category)
	assert.Equal(t, "windows", ls.Product)
	assert.Equal(t, "", ls.Service)
}

func TestMergeWireMetadata(t *testing.T) {
	ev := sampleEvent(t)
	err := ev.MergeWireMetadata([]byte(`{
		"logsource": {"category": "cloud_audit", "product": "aws", "service": "cloudtrail"},
		"source_id": "source-aws_cloudtrail_abc"
	}`))
	require.NoError(t, err)

	ls := ev.Logsource()
	assert.Equal(t, "cloud_audit", ls.Category)
	assert.Equal(t, "aws", ls.Product)
	assert.Equal(t, "cloudtrail", ls.Service)

	id, ok := ev.Metadata["source_id"]
	require.True(t, ok)
	s, _ := id.AsString()
	assert.Equal(t, "source-aws_cloudtrail_abc", s)
}

func TestMergeWireMetadataWinsOverFoldedShape(t *testing.T) {
	ev, err := Decode([]byte(`{"metadata": {"logsource": {"product": "folded"}}}`))
	require.NoError(t, err)
	require.NoError(t, ev.MergeWireMetadata([]byte(`{"logsource": {"product": "wire"}}`)))
	assert.Equal(t, "wire", ev.Logsource().Product)
}

func TestMergeWireMetadataSigmaNamespace(t *testing.T) {
	ev := sampleEvent(t)
	require.NoError(t, ev.MergeWireMetadata([]byte(`{"sigma": {"logsource": {"product": "okta"}}}`)))
	assert.Equal(t, "okta", ev.Logsource().Product)
}

func TestMergeWireMetadataRejectsNonObject(t *testing.T) {
	ev := sampleEvent(t)
	assert.Error(t, ev.MergeWireMetadata([]byte(`[1, 2]`)))
	// empty and null entries are no-ops
	assert.NoError(t, ev.MergeWireMetadata(nil))
	assert.NoError(t, ev.MergeWireMetadata([]byte(`null`)))
}

func TestLogsourceMetadataWins(t *testing.T) {
	ev := sampleEvent(t)
	ev.Metadata[MetaLogsource] = Map(map[string]Value{
		"category": String("cloud"),
		"product":  String("aws"),
		"service":  String("cloudtrail"),
	})
	ls := ev.Logsource()
	assert.Equal(t, "cloud", ls.Category)
	assert.Equal(t, "aws", ls.Product)
	assert.Equal(t, "cloudtrail", ls.Service)
}

func TestSelectAndKeywords(t *testing.T) {
	ev := sampleEvent(t)

	v, ok := ev.Select("user.name")
	require.True(t, ok)
	assert.Equal(t, "alice", v)

	_, ok = ev.Select("user.missing")
	assert.False(t, ok)

	kws, ok := ev.Keywords()
	require.True(t, ok)
	assert.Contains(t, kws, "alice")
	assert.Contains(t, kws, "CloudTrail")
}

func TestDecodeFailure(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
}
