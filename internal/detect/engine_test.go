package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/striemhq/striem/internal/alerts"
	"github.com/striemhq/striem/internal/event"
	"github.com/striemhq/striem/internal/logging"
	"github.com/striemhq/striem/internal/registry"
)

const cloudtrailRule = `title: CloudTrail console logon
id: 11111111-1111-1111-1111-111111111111
level: high
logsource:
  product: aws
  service: cloudtrail
detection:
  selection:
    metadata.product.name: CloudTrail
  condition: selection
`

const anySourceRule = `title: matches everything with a user
id: 22222222-2222-2222-2222-222222222222
level: low
detection:
  selection:
    user.name|exists: true
  condition: selection
`

func cloudtrailEvent(t *testing.T) *event.Event {
	t.Helper()
	ev, err := event.Decode([]byte(`{
		"class_uid": 3002,
		"activity_id": 1,
		"time": 1700000000000,
		"user": {"name": "alice"},
		"metadata": {"uid": "evt-1", "product": {"vendor_name": "AWS", "name": "CloudTrail"}}
	}`))
	require.NoError(t, err)
	return ev
}

func newTestEngine(t *testing.T, rules ...string) (*Engine, *registry.Registry, chan []*event.Event, *alerts.Store) {
	t.Helper()
	reg := registry.New(t.TempDir(), "", logging.Default())
	for _, rule := range rules {
		_, err := reg.PutRule([]byte(rule))
		require.NoError(t, err)
	}
	store := make(chan []*event.Event, 16)
	alertStore := alerts.NewStore(16)
	eng := NewEngine(reg, store, nil, alertStore, logging.Default())
	return eng, reg, store, alertStore
}

func TestEmptyRuleSetProducesNoFindings(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	assert.Empty(t, eng.Evaluate(cloudtrailEvent(t)))
}

func TestExactMatchEmitsFinding(t *testing.T) {
	eng, _, _, alertStore := newTestEngine(t, cloudtrailRule)

	findings := eng.Evaluate(cloudtrailEvent(t))
	require.Len(t, findings, 1)

	finding := findings[0]
	classUID, ok := finding.ClassUID()
	require.True(t, ok)
	assert.Equal(t, int64(FindingClassUID), classUID)

	sev, ok := finding.Data.Lookup("severity_id")
	require.True(t, ok)
	n, _ := sev.AsInt()
	assert.Equal(t, int64(4), n)

	ruleUID, ok := finding.Data.Lookup("finding_info.uid")
	require.True(t, ok)
	s, _ := ruleUID.AsString()
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", s)

	corr, ok := finding.Data.Lookup("metadata.correlation_uid")
	require.True(t, ok)
	s, _ = corr.AsString()
	assert.Equal(t, "evt-1", s)

	// the triggering event rides along as evidence
	evidence, ok := finding.Data.Lookup("evidences")
	require.True(t, ok)
	arr, _ := evidence.AsArray()
	require.Len(t, arr, 1)
	name, ok := arr[0].Lookup("data.user.name")
	require.True(t, ok)
	s, _ = name.AsString()
	assert.Equal(t, "alice", s)

	assert.Equal(t, 1, alertStore.Len())
}

func TestMultipleRulesAllEvaluated(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, cloudtrailRule, anySourceRule)
	findings := eng.Evaluate(cloudtrailEvent(t))
	// first-match does not short-circuit
	require.Len(t, findings, 2)
}

func TestLogsourceGating(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, cloudtrailRule)
	ev, err := event.Decode([]byte(`{
		"class_uid": 3002,
		"metadata": {"product": {"vendor_name": "Okta", "name": "CloudTrail"}}
	}`))
	require.NoError(t, err)
	// the selection would match, but the logsource gate does not
	assert.Empty(t, eng.Evaluate(ev))
}

const processCreationRule = `title: suspicious child process
id: 44444444-4444-4444-4444-444444444444
level: medium
logsource:
  category: process_creation
detection:
  selection:
    process.name|contains: powershell
  condition: selection
`

func TestCategoryGatingOverWireMetadata(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, processCreationRule)

	ev, err := event.Decode([]byte(`{"class_uid": 1007, "process": {"name": "powershell.exe"}}`))
	require.NoError(t, err)

	// without a logsource category the rule never becomes a candidate
	assert.Empty(t, eng.Evaluate(ev))

	// the collector's metadata channel supplies the category
	require.NoError(t, ev.MergeWireMetadata([]byte(`{"logsource": {"category": "process_creation", "product": "windows"}}`)))
	assert.Len(t, eng.Evaluate(ev), 1)

	// a different category stays gated out
	other, err := event.Decode([]byte(`{"class_uid": 1007, "process": {"name": "powershell.exe"}}`))
	require.NoError(t, err)
	require.NoError(t, other.MergeWireMetadata([]byte(`{"logsource": {"category": "network_connection"}}`)))
	assert.Empty(t, eng.Evaluate(other))
}

func TestCategoryGatingOverFoldedLogsource(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, processCreationRule)

	// remap transforms may fold the taxonomy into the record body instead
	ev, err := event.Decode([]byte(`{
		"class_uid": 1007,
		"process": {"name": "powershell.exe"},
		"metadata": {"logsource": {"category": "process_creation"}}
	}`))
	require.NoError(t, err)
	assert.Len(t, eng.Evaluate(ev), 1)
}

func TestEmptyLogsourceRuleSeesEveryEvent(t *testing.T) {
	eng, _, _, _ := newTestEngine(t, anySourceRule)
	ev, err := event.Decode([]byte(`{"class_uid": 9999, "user": {"name": "bob"}}`))
	require.NoError(t, err)
	assert.Len(t, eng.Evaluate(ev), 1)
}

func TestFindingClassesAreExcluded(t *testing.T) {
	// a rule broad enough to match findings themselves
	timedRule := `title: everything with a time
id: 33333333-3333-3333-3333-333333333333
level: low
detection:
  selection:
    time|exists: true
  condition: selection
`
	eng, _, _, _ := newTestEngine(t, timedRule)

	finding := eng.Evaluate(cloudtrailEvent(t))
	require.Len(t, finding, 1)
	// feeding the finding back through evaluation must not recurse
	assert.Empty(t, eng.Evaluate(finding[0]))
}

func TestHotReloadDisable(t *testing.T) {
	eng, reg, _, _ := newTestEngine(t, cloudtrailRule)

	require.Len(t, eng.Evaluate(cloudtrailEvent(t)), 1)

	require.NoError(t, reg.SetRuleEnabled("11111111-1111-1111-1111-111111111111", false))
	eng.reload()

	assert.Empty(t, eng.Evaluate(cloudtrailEvent(t)))
}

func TestRunRespondsToRegistryChanges(t *testing.T) {
	eng, reg, store, _ := newTestEngine(t, cloudtrailRule)

	events := make(chan []*event.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(ctx, events)
	}()

	events <- []*event.Event{cloudtrailEvent(t)}
	select {
	case findings := <-store:
		require.Len(t, findings, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("expected findings on the storage channel")
	}

	require.NoError(t, reg.SetRuleEnabled("11111111-1111-1111-1111-111111111111", false))
	// wait for the engine to drain the change notification and swap
	deadline := time.Now().Add(2 * time.Second)
	for len(eng.snap.Load().groups) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("engine never swapped in the updated snapshot")
		}
		time.Sleep(5 * time.Millisecond)
	}

	events <- []*event.Event{cloudtrailEvent(t)}
	select {
	case <-store:
		t.Fatal("disabled rule must not produce findings")
	case <-time.After(200 * time.Millisecond):
	}

	close(events)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not exit after channel close")
	}
}

func TestSeverityMapping(t *testing.T) {
	levels := map[string]int64{
		"informational": 1,
		"low":           2,
		"medium":        3,
		"high":          4,
		"critical":      5,
	}
	for level, want := range levels {
		rule := "title: level " + level + "\nlevel: " + level + "\ndetection:\n  selection:\n    f: x\n  condition: selection\n"
		eng, _, _, _ := newTestEngine(t, rule)
		ev, err := event.Decode([]byte(`{"f": "x"}`))
		require.NoError(t, err)
		findings := eng.Evaluate(ev)
		require.Len(t, findings, 1, "level %s", level)
		sev, _ := findings[0].Data.Lookup("severity_id")
		n, _ := sev.AsInt()
		assert.Equal(t, want, n, "level %s", level)
	}
}
