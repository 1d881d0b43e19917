// Package consent implements the Consent Coordinator (CC): it forwards an
// admin's request_remote_access to the target device's agent and fans the
// agent's eventual consent_response back out to every admin of that
// device's tenant, per spec.md §4.8.
package consent

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/technosupport/remotehub/internal/store"
	"github.com/technosupport/remotehub/internal/tenant"
)

// DedupWindow suppresses a rapid-fire repeat of the same admin requesting
// the same device within this window, the same shape as the teacher's
// nvr.EventDedup but keyed on admin+device rather than a camera event.
const DedupWindow = 2 * time.Second

// DeviceTenantLookup resolves a device's home tenant and records consent
// outcomes to the operational log. internal/store.Store satisfies it.
type DeviceTenantLookup interface {
	GetDevice(id string) (store.Device, bool)
	AppendLog(level, msg string, meta map[string]any)
}

// AgentMessenger sends a payload to the active agent session for a device.
// internal/hub.Registry satisfies it.
type AgentMessenger interface {
	SendToAgent(deviceID string, payload any) bool
	BroadcastToTenant(tenantID string, msg any)
}

// Metrics receives consent outcome counters. internal/metrics.Collector
// satisfies it.
type Metrics interface {
	IncConsentDecision(outcome string)
}

// Coordinator keeps no consent state; its only state is the admin+device
// dedup cache, which is not cleared when an agent reconnects. Every send it
// issues either goes back to the requesting admin's own session (so
// per-connection ordering holds) or is broadcast tenant-wide through the
// registry.
type Coordinator struct {
	devices DeviceTenantLookup
	agents  AgentMessenger
	metrics Metrics
	dedup   *lru.Cache[string, time.Time]
}

func NewCoordinator(devices DeviceTenantLookup, agents AgentMessenger, metrics Metrics) *Coordinator {
	cache, _ := lru.New[string, time.Time](1024)
	return &Coordinator{devices: devices, agents: agents, metrics: metrics, dedup: cache}
}

// RequestAccess handles an admin's {type:"request_remote_access"} command.
// It returns the message the caller should send back to the requesting
// admin's session directly;
// a nil message means the request was a suppressed duplicate and nothing
// should be sent.
func (c *Coordinator) RequestAccess(adminUsername string, allowedTenants []string, deviceID string) map[string]any {
	dev, ok := c.devices.GetDevice(deviceID)
	if !ok || !tenant.CanAccessDevice(allowedTenants, dev.Tenant) {
		return map[string]any{"type": "error", "message": "forbidden"}
	}

	key := adminUsername + "|" + deviceID
	if c.dedup != nil {
		if last, ok := c.dedup.Get(key); ok && time.Since(last) < DedupWindow {
			return nil
		}
		c.dedup.Add(key, time.Now())
	}

	if !c.agents.SendToAgent(deviceID, map[string]any{"type": "consent_request", "admin": adminUsername}) {
		c.devices.AppendLog("info", "consent request found agent offline", map[string]any{"deviceId": deviceID, "admin": adminUsername})
		if c.metrics != nil {
			c.metrics.IncConsentDecision("offline")
		}
		return map[string]any{"type": "consent_response", "deviceId": deviceID, "accepted": false, "reason": "agent_offline"}
	}

	return map[string]any{"type": "consent_status", "deviceId": deviceID, "status": "sent_to_agent"}
}

// HandleAgentResponse processes an agent's {type:"consent_response"} and
// broadcasts it to every admin session whose allowedTenants cover the
// device's tenant.
func (c *Coordinator) HandleAgentResponse(deviceID string, accepted bool) {
	dev, _ := c.devices.GetDevice(deviceID)

	c.agents.BroadcastToTenant(dev.Tenant, map[string]any{
		"type":     "consent_response",
		"deviceId": deviceID,
		"accepted": accepted,
	})

	outcome := "declined"
	if accepted {
		outcome = "accepted"
	}
	c.devices.AppendLog("info", "consent decision", map[string]any{"deviceId": deviceID, "accepted": accepted})
	if c.metrics != nil {
		c.metrics.IncConsentDecision(outcome)
	}
}
