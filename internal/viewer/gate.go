// Package viewer implements the Viewer Gate (VG): it reference-counts open
// stream consumers per device and signals the agent to start or stop
// streaming on the 0<->N transition, per spec.md §4.7.
package viewer

import "sync"

// AgentSignaler sends a control message to the active agent session for a
// device, if any. internal/hub.Registry satisfies it.
type AgentSignaler interface {
	SendToAgent(deviceID string, payload any) bool
}

// Gate owns the per-device attachment count. Count 0->1 and N->0 are the
// only transitions that emit a control message; everything in between is
// silent, so a second viewer opening never re-triggers stream-enable.
type Gate struct {
	mu     sync.Mutex
	counts map[string]int
	agents AgentSignaler
}

func NewGate(agents AgentSignaler) *Gate {
	return &Gate{counts: make(map[string]int), agents: agents}
}

// Open registers one more viewer for deviceID. On the 0->1 transition it
// sends both the stream-enable and stream_enable control verbs to the
// device's agent, for backward compatibility with either spelling.
func (g *Gate) Open(deviceID string) {
	g.mu.Lock()
	g.counts[deviceID]++
	first := g.counts[deviceID] == 1
	g.mu.Unlock()

	if first && g.agents != nil {
		g.agents.SendToAgent(deviceID, map[string]any{"type": "stream-enable"})
		g.agents.SendToAgent(deviceID, map[string]any{"type": "stream_enable"})
	}
}

// Close unregisters one viewer for deviceID. On the N->0 transition it sends
// both stream-disable spellings. Closing a device with a zero count is a
// no-op (defensive against a double-close).
func (g *Gate) Close(deviceID string) {
	g.mu.Lock()
	if g.counts[deviceID] <= 0 {
		g.mu.Unlock()
		return
	}
	g.counts[deviceID]--
	last := g.counts[deviceID] == 0
	if last {
		delete(g.counts, deviceID)
	}
	g.mu.Unlock()

	if last && g.agents != nil {
		g.agents.SendToAgent(deviceID, map[string]any{"type": "stream-disable"})
		g.agents.SendToAgent(deviceID, map[string]any{"type": "stream_disable"})
	}
}

// Count returns the current viewer count for one device.
func (g *Gate) Count(deviceID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[deviceID]
}

// Total returns the viewer count across every device, for the metrics
// collector's gauge.
func (g *Gate) Total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, c := range g.counts {
		total += c
	}
	return total
}
