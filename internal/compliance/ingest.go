// Package compliance ingests agent-reported compliance events: it dedups a
// flaky agent's rapid retry of the same event, appends it to the Store, and
// fans a summary out to the device's tenant admins and the event bus.
package compliance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/technosupport/remotehub/internal/store"
)

// DedupTTL matches the window nvr.EventDedup used for its NVR event retries,
// generalized here to a per-device compliance submission.
const DedupTTL = 5 * time.Second

// DedupMaxKeys bounds the LRU backing the dedup cache.
const DedupMaxKeys = 4096

// Appender persists a compliance event and reports its device's running
// count. internal/store.Store satisfies it.
type Appender interface {
	AppendCompliance(evt store.ComplianceEvent) (store.ComplianceEvent, error)
	Aggregate(deviceID string) store.Aggregate
}

// Broadcaster fans the accepted event out to the device's tenant admins.
// internal/hub.Registry satisfies it.
type Broadcaster interface {
	BroadcastToTenant(tenantID string, msg any)
}

// Exporter publishes the accepted event to an external sink (NATS). A nil
// Exporter is valid.
type Exporter interface {
	PublishCompliance(evt store.ComplianceEvent)
}

// Ingester is the write side of the compliance subsystem; Store.ListCompliance
// and Store.Aggregate remain the read side, served directly from the Edge.
type Ingester struct {
	store    Appender
	bus      Broadcaster
	exporter Exporter
	dedup    *lru.Cache[string, time.Time]
}

func NewIngester(store Appender, bus Broadcaster, exporter Exporter) *Ingester {
	cache, _ := lru.New[string, time.Time](DedupMaxKeys)
	return &Ingester{store: store, bus: bus, exporter: exporter, dedup: cache}
}

// BuildDedupKey identifies a submission by device, author, and content,
// following nvr.BuildDedupKey's tenant|id|channel|type|time shape generalized
// to this domain's fields.
func BuildDedupKey(deviceID, author, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s|%s|%s", deviceID, author, hex.EncodeToString(sum[:8]))
}

// Ingest appends evt unless it duplicates a submission seen within DedupTTL
// for the same device+author+content. Returns the stored event (with its
// id/timestamp filled in) and whether it was newly accepted.
func (i *Ingester) Ingest(evt store.ComplianceEvent, tenantID string) (store.ComplianceEvent, bool, error) {
	key := BuildDedupKey(evt.DeviceID, evt.Author, evt.Content)
	if i.dedup != nil {
		if last, ok := i.dedup.Get(key); ok && time.Since(last) < DedupTTL {
			return store.ComplianceEvent{}, false, nil
		}
		i.dedup.Add(key, time.Now())
	}

	stored, err := i.store.AppendCompliance(evt)
	if err != nil {
		return store.ComplianceEvent{}, false, err
	}

	if i.bus != nil {
		agg := i.store.Aggregate(stored.DeviceID)
		i.bus.BroadcastToTenant(tenantID, map[string]any{
			"type":     "compliance_event",
			"deviceId": stored.DeviceID,
			"count":    agg.Count,
			"severity": stored.Severity,
			"ts":       stored.Timestamp,
		})
	}
	if i.exporter != nil {
		i.exporter.PublishCompliance(stored)
	}
	return stored, true, nil
}
