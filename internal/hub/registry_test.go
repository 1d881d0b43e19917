package hub_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/remotehub/internal/hub"
	"github.com/technosupport/remotehub/internal/store"
)

// dialPair upgrades one end of a real WebSocket connection against an
// httptest server and hands back the server-side *websocket.Conn the
// Registry operates on, plus the client-side *websocket.Conn a test can read
// broadcasts from. The Registry's writePump goroutine requires a live
// connection, not a mock, so tests exercise it end to end exactly as the
// pack's own WS hub tests do.
func dialPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverConnCh := make(chan *websocket.Conn, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConnCh <- conn
	}))
	t.Cleanup(ts.Close)

	wsURL := "ws" + ts.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-serverConnCh
	t.Cleanup(func() { serverConn.Close() })
	return serverConn, clientConn
}

func readJSON(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func newTestRegistry(t *testing.T) *hub.Registry {
	t.Helper()
	st := store.New(t.TempDir())
	require.NoError(t, st.Load())
	return hub.NewRegistry(st, nil, nil)
}

func TestRegisterAgentBroadcastsPresenceToTenantAdmin(t *testing.T) {
	r := newTestRegistry(t)
	agentConn, _ := dialPair(t)
	adminConn, adminClient := dialPair(t)

	r.RegisterAdmin("adminCLA", []string{"CLA1"}, adminConn)
	snapshot := readJSON(t, adminClient, time.Second)
	assert.Equal(t, "devices_snapshot", snapshot["type"])

	_, err := r.RegisterAgent("dev-1", "CLA1", "1.0.0", agentConn)
	require.NoError(t, err)

	presence := readJSON(t, adminClient, time.Second)
	assert.Equal(t, "device_presence", presence["type"])
	assert.Equal(t, "dev-1", presence["deviceId"])
	assert.Equal(t, true, presence["online"])

	assert.Equal(t, 1, r.ConnectedAgents())
}

func TestRegisterAgentRejectsTenantMismatch(t *testing.T) {
	r := newTestRegistry(t)
	firstConn, _ := dialPair(t)
	secondConn, _ := dialPair(t)

	_, err := r.RegisterAgent("dev-1", "CLA1", "1.0.0", firstConn)
	require.NoError(t, err)

	_, err = r.RegisterAgent("dev-1", "DLA1", "1.0.0", secondConn)
	assert.ErrorIs(t, err, store.ErrTenantMismatch)
}

func TestRemoveAgentIgnoresSupplantedSession(t *testing.T) {
	r := newTestRegistry(t)
	firstConn, _ := dialPair(t)
	secondConn, _ := dialPair(t)

	first, err := r.RegisterAgent("dev-1", "CLA1", "1.0.0", firstConn)
	require.NoError(t, err)

	second, err := r.RegisterAgent("dev-1", "CLA1", "1.1.0", secondConn)
	require.NoError(t, err)

	// The supplanted session's own cleanup must not evict its successor.
	r.RemoveAgent("dev-1", first)
	_, ok := r.AgentSessionFor("dev-1")
	assert.True(t, ok)

	r.RemoveAgent("dev-1", second)
	_, ok = r.AgentSessionFor("dev-1")
	assert.False(t, ok)
}

func TestSendToAgentReturnsFalseWhenOffline(t *testing.T) {
	r := newTestRegistry(t)
	assert.False(t, r.SendToAgent("dev-missing", map[string]any{"type": "ping"}))
}

func TestBroadcastToTenantFiltersByAllowedTenants(t *testing.T) {
	r := newTestRegistry(t)
	inConn, inClient := dialPair(t)
	outConn, outClient := dialPair(t)

	r.RegisterAdmin("in-scope", []string{"CLA1"}, inConn)
	readJSON(t, inClient, time.Second) // snapshot
	r.RegisterAdmin("out-of-scope", []string{"DLA1"}, outConn)
	readJSON(t, outClient, time.Second) // snapshot

	r.BroadcastToTenant("CLA1", map[string]any{"type": "compliance_event", "deviceId": "dev-1"})

	msg := readJSON(t, inClient, time.Second)
	assert.Equal(t, "compliance_event", msg["type"])

	outClient.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := outClient.ReadMessage()
	assert.Error(t, err, "admin outside the tenant scope must not receive the broadcast")
}
