// Package hub implements the Session Registry: it tracks live admin and
// agent WebSocket sessions, serializes outbound writes per session, and
// broadcasts presence. The stale-agent sweep lives in internal/presence,
// which calls Registry.MarkOffline.
package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSendTimeout   = errors.New("send timed out")
)

const sendTimeout = 5 * time.Second

// session is the shared outbound-mailbox machinery behind both
// AgentSession and AdminSession: exactly one goroutine (writePump) ever
// calls conn.WriteMessage, so concurrent producers never race on the
// socket.
type session struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn) session {
	return session{conn: conn, send: make(chan []byte, 32), done: make(chan struct{})}
}

func (s *session) writePump() {
	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Send enqueues msg for delivery. A producer that cannot enqueue within
// sendTimeout closes the session rather than blocking indefinitely or
// growing the mailbox without bound.
func (s *session) Send(msg []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-time.After(sendTimeout):
		s.Close()
		return ErrSendTimeout
	}
}

func (s *session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// AgentSession is one connected agent's WebSocket session. SR guarantees at
// most one ACTIVE AgentSession per DeviceID.
type AgentSession struct {
	session
	DeviceID     string
	Tenant       string
	AgentVersion string
}

func newAgentSession(deviceID, tenant, version string, conn *websocket.Conn) *AgentSession {
	return &AgentSession{session: newSession(conn), DeviceID: deviceID, Tenant: tenant, AgentVersion: version}
}

// AdminSession is one connected admin's WebSocket session.
type AdminSession struct {
	session
	Username       string
	AllowedTenants []string
}

func newAdminSession(username string, allowedTenants []string, conn *websocket.Conn) *AdminSession {
	return &AdminSession{session: newSession(conn), Username: username, AllowedTenants: allowedTenants}
}
