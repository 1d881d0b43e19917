package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/technosupport/remotehub/internal/store"
	"github.com/technosupport/remotehub/internal/tenant"
)

// MetricsSink receives the presence/connection-count side effects the
// Registry produces. internal/metrics.Collector satisfies it.
type MetricsSink interface {
	IncPresenceTransition(direction string)
}

// EventPublisher receives best-effort copies of presence transitions for
// external consumption (e.g. NATS). A nil EventPublisher is valid.
type EventPublisher interface {
	PublishPresence(deviceID string, online bool, tenantID string)
}

// Registry is the Session Registry (SR): it owns the deviceId -> AgentSession
// and adminId -> AdminSession maps and is the only component that mutates
// them.
type Registry struct {
	mu     sync.Mutex
	agents map[string]*AgentSession
	admins map[*AdminSession]struct{}

	store   *store.Store
	metrics MetricsSink
	bus     EventPublisher
}

func NewRegistry(s *store.Store, metrics MetricsSink, bus EventPublisher) *Registry {
	return &Registry{
		agents:  make(map[string]*AgentSession),
		admins:  make(map[*AdminSession]struct{}),
		store:   s,
		metrics: metrics,
		bus:     bus,
	}
}

// RegisterAgent admits a new agent connection for deviceID. If an
// AgentSession is already active for deviceID it is force-closed first
// (SUPPLANTED) before the new one is installed, per spec.md §4.4's state
// machine.
func (r *Registry) RegisterAgent(deviceID, tenantID, version string, conn *websocket.Conn) (*AgentSession, error) {
	dev, err := r.store.UpsertDevice(deviceID, tenantID)
	if err != nil {
		return nil, err
	}

	sess := newAgentSession(deviceID, dev.Tenant, version, conn)

	r.mu.Lock()
	if old, ok := r.agents[deviceID]; ok {
		old.Close()
	}
	r.agents[deviceID] = sess
	r.mu.Unlock()

	now := time.Now().UnixMilli()
	r.store.SetConnected(deviceID, true, now)
	r.store.Touch(deviceID, now, version)

	go sess.writePump()

	r.store.AppendLog("info", "agent connected", map[string]any{"deviceId": deviceID, "tenant": dev.Tenant, "agentVersion": version})
	r.broadcastPresence(deviceID, dev.Tenant, true, now, version)
	if r.metrics != nil {
		r.metrics.IncPresenceTransition("online")
	}
	if r.bus != nil {
		r.bus.PublishPresence(deviceID, true, dev.Tenant)
	}
	return sess, nil
}

// RemoveAgent tears down sess's registration for deviceID, but only if sess
// is still the one installed in the map (a supplanted session's own
// cleanup must not clobber its successor). The presence-offline broadcast
// happens before the map entry is removed, per spec.md §5's ordering
// guarantee.
func (r *Registry) RemoveAgent(deviceID string, sess *AgentSession) {
	r.mu.Lock()
	cur, ok := r.agents[deviceID]
	valid := ok && cur == sess
	r.mu.Unlock()
	if !valid {
		return
	}

	r.store.SetConnected(deviceID, false, 0)
	r.store.AppendLog("info", "agent disconnected", map[string]any{"deviceId": deviceID, "tenant": sess.Tenant})
	r.broadcastPresence(deviceID, sess.Tenant, false, time.Now().UnixMilli(), sess.AgentVersion)
	if r.metrics != nil {
		r.metrics.IncPresenceTransition("offline")
	}
	if r.bus != nil {
		r.bus.PublishPresence(deviceID, false, sess.Tenant)
	}

	r.mu.Lock()
	delete(r.agents, deviceID)
	r.mu.Unlock()
}

// MarkOffline flips deviceID to disconnected and broadcasts presence-offline
// without touching the agents map: the Presence Monitor calls this on a TTL
// timeout, where the underlying socket may still be open (spec.md §4.5 — no
// probe is sent, so the hub cannot tell the difference between a slow agent
// and a dead one until the socket itself errors on a later send).
func (r *Registry) MarkOffline(deviceID, tenantID string) {
	r.store.SetConnected(deviceID, false, 0)
	r.store.AppendLog("warn", "device presence TTL expired", map[string]any{"deviceId": deviceID, "tenant": tenantID})
	r.broadcastPresence(deviceID, tenantID, false, time.Now().UnixMilli(), "")
	if r.metrics != nil {
		r.metrics.IncPresenceTransition("offline")
	}
	if r.bus != nil {
		r.bus.PublishPresence(deviceID, false, tenantID)
	}
}

// AgentSessionFor returns the active AgentSession for deviceID, if any.
func (r *Registry) AgentSessionFor(deviceID string) (*AgentSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.agents[deviceID]
	return s, ok
}

// SendToAgent marshals payload as JSON and enqueues it on deviceID's
// session. Returns false if no agent is currently active for deviceID.
func (r *Registry) SendToAgent(deviceID string, payload any) bool {
	sess, ok := r.AgentSessionFor(deviceID)
	if !ok {
		return false
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("hub: marshal agent payload for %s: %v", deviceID, err)
		return false
	}
	return sess.Send(b) == nil
}

// RegisterAdmin admits a new admin connection and immediately sends a
// tenant-filtered devices_snapshot.
func (r *Registry) RegisterAdmin(username string, allowedTenants []string, conn *websocket.Conn) *AdminSession {
	sess := newAdminSession(username, allowedTenants, conn)

	r.mu.Lock()
	r.admins[sess] = struct{}{}
	r.mu.Unlock()

	go sess.writePump()
	r.sendSnapshot(sess)
	return sess
}

// RemoveAdmin drops sess from the registry.
func (r *Registry) RemoveAdmin(sess *AdminSession) {
	r.mu.Lock()
	delete(r.admins, sess)
	r.mu.Unlock()
}

func (r *Registry) sendSnapshot(sess *AdminSession) {
	allowed := sess.AllowedTenants
	views := r.store.DeviceViews(func(t string) bool { return tenant.CanAccessTenant(allowed, t) })
	msg := map[string]any{"type": "devices_snapshot", "devices": views}
	b, err := json.Marshal(msg)
	if err != nil {
		log.Printf("hub: marshal devices_snapshot: %v", err)
		return
	}
	_ = sess.Send(b)
}

// broadcastPresence sends device_presence to every admin whose allowed
// tenants cover tenantID. Failures are logged and otherwise ignored, per
// spec.md §4.4's failure semantics.
func (r *Registry) broadcastPresence(deviceID, tenantID string, online bool, lastSeen int64, agentVersion string) {
	msg := map[string]any{
		"type":         "device_presence",
		"deviceId":     deviceID,
		"online":       online,
		"lastSeen":     lastSeen,
		"agentVersion": agentVersion,
	}
	r.BroadcastToTenant(tenantID, msg)
}

// BroadcastToTenant marshals msg once and sends it to every admin session
// whose AllowedTenants cover tenantID.
func (r *Registry) BroadcastToTenant(tenantID string, msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Printf("hub: marshal broadcast message: %v", err)
		return
	}

	r.mu.Lock()
	targets := make([]*AdminSession, 0, len(r.admins))
	for a := range r.admins {
		if tenant.CanAccessTenant(a.AllowedTenants, tenantID) {
			targets = append(targets, a)
		}
	}
	r.mu.Unlock()

	for _, a := range targets {
		if err := a.Send(b); err != nil {
			log.Printf("hub: broadcast to admin %s failed: %v", a.Username, err)
		}
	}
}

// ConnectedAgents implements metrics.Source.
func (r *Registry) ConnectedAgents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

// ConnectedAdmins implements metrics.Source.
func (r *Registry) ConnectedAdmins() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.admins)
}
