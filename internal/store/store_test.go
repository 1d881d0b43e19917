package store_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/remotehub/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	dir := t.TempDir()
	s := store.New(dir)
	require.NoError(t, s.Load())
	return s
}

func TestUpsertDevicePinsTenantOnFirstBind(t *testing.T) {
	s := newTestStore(t)

	d, err := s.UpsertDevice("dev-42", "CLA1")
	require.NoError(t, err)
	assert.Equal(t, "CLA1", d.Tenant)

	_, err = s.UpsertDevice("dev-42", "DLA1")
	assert.ErrorIs(t, err, store.ErrTenantMismatch)

	d, _ = s.GetDevice("dev-42")
	assert.Equal(t, "CLA1", d.Tenant, "tenant must stay pinned to the first bind")
}

func TestPutAliasEmptyLabelDeletes(t *testing.T) {
	s := newTestStore(t)

	a, err := s.PutAlias("dev-42", "Front Desk")
	require.NoError(t, err)
	assert.Equal(t, "Front Desk", a.Label)

	_, ok := s.GetAlias("dev-42")
	assert.True(t, ok)

	_, err = s.PutAlias("dev-42", "")
	require.NoError(t, err)

	_, ok = s.GetAlias("dev-42")
	assert.False(t, ok)
}

func TestAliasPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	s1 := store.New(dir)
	require.NoError(t, s1.Load())
	_, err := s1.PutAlias("dev-42", "Front Desk")
	require.NoError(t, err)

	s2 := store.New(dir)
	require.NoError(t, s2.Load())
	a, ok := s2.GetAlias("dev-42")
	require.True(t, ok)
	assert.Equal(t, "Front Desk", a.Label)
}

func TestAppendComplianceUpdatesAggregateAndReplays(t *testing.T) {
	dir := t.TempDir()
	s1 := store.New(dir)
	require.NoError(t, s1.Load())

	_, err := s1.AppendCompliance(store.ComplianceEvent{
		DeviceID: "dev-42",
		Author:   "agent",
		Content:  "ssn leak",
		Severity: store.SeverityHigh,
	})
	require.NoError(t, err)

	agg := s1.Aggregate("dev-42")
	assert.Equal(t, 1, agg.Count)
	assert.Equal(t, store.SeverityHigh, agg.LastSeverity)

	// A restart replays the event log and recomputes the aggregate instead
	// of trusting any separately persisted summary.
	s2 := store.New(dir)
	require.NoError(t, s2.Load())
	agg2 := s2.Aggregate("dev-42")
	assert.Equal(t, agg, agg2)
}

func TestLogRingBounded(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < store.LogRingSize+10; i++ {
		s.AppendLog("info", "tick", nil)
	}
	assert.Len(t, s.ListLogs(), store.LogRingSize)
}

func TestDeviceViewsFiltersByTenant(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertDevice("dev-42", "CLA1")
	require.NoError(t, err)
	_, err = s.UpsertDevice("dev-99", "DLA1")
	require.NoError(t, err)
	_, err = s.PutAlias("dev-42", "Front Desk")
	require.NoError(t, err)

	views := s.DeviceViews(func(tenant string) bool { return tenant == "CLA1" })
	require.Len(t, views, 1)
	assert.Equal(t, "dev-42", views[0].DeviceID)
	assert.Equal(t, "Front Desk", views[0].Name)
}

func TestWriteJSONAtomicLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	s := store.New(dir)
	require.NoError(t, s.Load())

	_, err := s.PutAlias("dev-1", "A")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}
