package compliance_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/remotehub/internal/compliance"
	"github.com/technosupport/remotehub/internal/store"
)

type fakeAppender struct {
	nextID   int
	stored   []store.ComplianceEvent
	failWith error
}

func (f *fakeAppender) AppendCompliance(evt store.ComplianceEvent) (store.ComplianceEvent, error) {
	if f.failWith != nil {
		return store.ComplianceEvent{}, f.failWith
	}
	f.nextID++
	evt.ID = "evt-" + string(rune('0'+f.nextID))
	evt.Timestamp = int64(f.nextID)
	f.stored = append(f.stored, evt)
	return evt, nil
}

func (f *fakeAppender) Aggregate(deviceID string) store.Aggregate {
	count := 0
	var last store.ComplianceEvent
	for _, evt := range f.stored {
		if evt.DeviceID == deviceID {
			count++
			last = evt
		}
	}
	return store.Aggregate{Count: count, LastAt: last.Timestamp, LastSeverity: last.Severity}
}

type fakeBroadcaster struct {
	broadcasts []map[string]any
}

func (f *fakeBroadcaster) BroadcastToTenant(tenantID string, msg any) {
	m := msg.(map[string]any)
	m["_tenant"] = tenantID
	f.broadcasts = append(f.broadcasts, m)
}

type fakeExporter struct {
	published []store.ComplianceEvent
}

func (f *fakeExporter) PublishCompliance(evt store.ComplianceEvent) {
	f.published = append(f.published, evt)
}

func TestIngestAppendsBroadcastsAndExports(t *testing.T) {
	appender := &fakeAppender{}
	broadcaster := &fakeBroadcaster{}
	exporter := &fakeExporter{}
	ing := compliance.NewIngester(appender, broadcaster, exporter)

	evt := store.ComplianceEvent{DeviceID: "dev-1", Author: "agent", Content: "clipboard scan", Severity: store.SeverityHigh}
	stored, accepted, err := ing.Ingest(evt, "CLA1")

	require.NoError(t, err)
	assert.True(t, accepted)
	assert.NotEmpty(t, stored.ID)
	require.Len(t, broadcaster.broadcasts, 1)
	assert.Equal(t, "compliance_event", broadcaster.broadcasts[0]["type"])
	assert.Equal(t, "dev-1", broadcaster.broadcasts[0]["deviceId"])
	assert.Equal(t, "CLA1", broadcaster.broadcasts[0]["_tenant"])
	require.Len(t, exporter.published, 1)
	assert.Equal(t, stored.ID, exporter.published[0].ID)
}

func TestIngestDedupsRapidRepeat(t *testing.T) {
	appender := &fakeAppender{}
	broadcaster := &fakeBroadcaster{}
	ing := compliance.NewIngester(appender, broadcaster, nil)

	evt := store.ComplianceEvent{DeviceID: "dev-1", Author: "agent", Content: "same scan"}
	_, first, err := ing.Ingest(evt, "CLA1")
	require.NoError(t, err)
	assert.True(t, first)

	_, second, err := ing.Ingest(evt, "CLA1")
	require.NoError(t, err)
	assert.False(t, second, "identical device+author+content within the dedup window is suppressed")
	assert.Len(t, appender.stored, 1)
	assert.Len(t, broadcaster.broadcasts, 1)
}

func TestIngestDistinguishesContent(t *testing.T) {
	appender := &fakeAppender{}
	broadcaster := &fakeBroadcaster{}
	ing := compliance.NewIngester(appender, broadcaster, nil)

	first := store.ComplianceEvent{DeviceID: "dev-1", Author: "agent", Content: "scan A"}
	second := store.ComplianceEvent{DeviceID: "dev-1", Author: "agent", Content: "scan B"}

	_, accepted1, err := ing.Ingest(first, "CLA1")
	require.NoError(t, err)
	assert.True(t, accepted1)

	_, accepted2, err := ing.Ingest(second, "CLA1")
	require.NoError(t, err)
	assert.True(t, accepted2, "different content is not deduped even from the same device+author")
	assert.Len(t, appender.stored, 2)
}

func TestIngestPropagatesStoreError(t *testing.T) {
	appender := &fakeAppender{failWith: errors.New("disk full")}
	broadcaster := &fakeBroadcaster{}
	ing := compliance.NewIngester(appender, broadcaster, nil)

	_, accepted, err := ing.Ingest(store.ComplianceEvent{DeviceID: "dev-1", Author: "agent", Content: "scan"}, "CLA1")
	require.Error(t, err)
	assert.False(t, accepted)
	assert.Empty(t, broadcaster.broadcasts, "a failed append must not broadcast")
}

func TestIngestSkipsBroadcastWhenBusIsNil(t *testing.T) {
	appender := &fakeAppender{}
	ing := compliance.NewIngester(appender, nil, nil)

	stored, accepted, err := ing.Ingest(store.ComplianceEvent{DeviceID: "dev-1", Author: "agent", Content: "scan"}, "CLA1")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.NotEmpty(t, stored.ID)
}
