package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/technosupport/remotehub/internal/compliance"
	"github.com/technosupport/remotehub/internal/consent"
	"github.com/technosupport/remotehub/internal/frame"
	"github.com/technosupport/remotehub/internal/hub"
	"github.com/technosupport/remotehub/internal/middleware"
	"github.com/technosupport/remotehub/internal/store"
	"github.com/technosupport/remotehub/internal/tenant"
	"github.com/technosupport/remotehub/internal/tokens"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// closeDeadline bounds how long a rejected connection is given to flush its
// close frame before the socket is torn down.
const closeDeadline = 2 * time.Second

// WSHandler implements spec.md §6.2's single upgrade endpoint at "/",
// distinguished by the role query parameter.
type WSHandler struct {
	Store         *store.Store
	Registry      *hub.Registry
	Frames        *frame.Router
	Consent       *consent.Coordinator
	Compliance    *compliance.Ingester
	Tokens        *tokens.Manager
	DefaultTenant string
}

func closeWithReason(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeDeadline))
	conn.Close()
}

func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	switch role {
	case "agent":
		h.serveAgent(w, r)
	case "admin":
		h.serveAdmin(w, r)
	default:
		http.Error(w, "unknown or missing role", http.StatusBadRequest)
	}
}

func (h *WSHandler) serveAgent(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	tenantParam := r.URL.Query().Get("tenant")
	version := r.URL.Query().Get("v")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: agent upgrade failed: %v", err)
		return
	}

	if deviceID == "" {
		closeWithReason(conn, "deviceId is required")
		return
	}
	if tenantParam == "" {
		tenantParam = h.DefaultTenant
	} else if !tenant.IsKnown(tenantParam) {
		closeWithReason(conn, "unknown tenant")
		return
	}

	sess, err := h.Registry.RegisterAgent(deviceID, tenantParam, version, conn)
	if err != nil {
		if errors.Is(err, store.ErrTenantMismatch) {
			closeWithReason(conn, "device already bound to a different tenant")
			return
		}
		closeWithReason(conn, "registration failed")
		return
	}

	h.agentReadLoop(conn, sess)
	h.Registry.RemoveAgent(deviceID, sess)
}

// agentMessage is the tagged union of everything an agent may send as text.
type agentMessage struct {
	Type       string   `json:"type"`
	Accepted   bool     `json:"accepted"`
	Author     string   `json:"author"`
	Context    string   `json:"context"`
	Content    string   `json:"content"`
	Matches    []string `json:"matches"`
	Severity   string   `json:"severity"`
	Suspicious bool     `json:"suspicious"`
}

func (h *WSHandler) agentReadLoop(conn *websocket.Conn, sess *hub.AgentSession) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			h.Frames.AcceptBinary(sess.DeviceID, data)
		case websocket.TextMessage:
			h.dispatchAgentText(sess, data)
		}
	}
}

func (h *WSHandler) dispatchAgentText(sess *hub.AgentSession, data []byte) {
	var msg agentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("api: malformed agent message from %s: %v", sess.DeviceID, err)
		return
	}

	switch msg.Type {
	case "ping":
		now := time.Now().UnixMilli()
		h.Store.Touch(sess.DeviceID, now, "")
		b, _ := json.Marshal(map[string]any{"type": "pong"})
		_ = sess.Send(b)
	case "frame", "screen_frame":
		if _, err := h.Frames.AcceptJSON(sess.DeviceID, data); err != nil {
			log.Printf("api: malformed frame from %s: %v", sess.DeviceID, err)
		}
	case "consent_response":
		h.Consent.HandleAgentResponse(sess.DeviceID, msg.Accepted)
	case "compliance_event":
		if h.Compliance == nil {
			return
		}
		evt := store.ComplianceEvent{
			DeviceID:   sess.DeviceID,
			Author:     msg.Author,
			Context:    msg.Context,
			Content:    msg.Content,
			Matches:    msg.Matches,
			Severity:   store.Severity(msg.Severity),
			Suspicious: msg.Suspicious,
		}
		if _, _, err := h.Compliance.Ingest(evt, sess.Tenant); err != nil {
			log.Printf("api: compliance ingest failed for %s: %v", sess.DeviceID, err)
		}
	default:
		log.Printf("api: unrecognized agent message type %q from %s", msg.Type, sess.DeviceID)
	}
}

func (h *WSHandler) serveAdmin(w http.ResponseWriter, r *http.Request) {
	tokenString := middleware.ExtractToken(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: admin upgrade failed: %v", err)
		return
	}

	claims, err := h.Tokens.Verify(tokenString)
	if err != nil {
		closeWithReason(conn, "invalid token")
		return
	}

	sess := h.Registry.RegisterAdmin(claims.Username, claims.AllowedTenants, conn)
	h.adminReadLoop(conn, sess)
	h.Registry.RemoveAdmin(sess)
}

// adminMessage is the tagged union of everything an admin may send.
type adminMessage struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
}

func (h *WSHandler) adminReadLoop(conn *websocket.Conn, sess *hub.AdminSession) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg adminMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("api: malformed admin message from %s: %v", sess.Username, err)
			continue
		}

		switch msg.Type {
		case "request_remote_access":
			reply := h.Consent.RequestAccess(sess.Username, sess.AllowedTenants, msg.DeviceID)
			if reply == nil {
				continue
			}
			b, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			_ = sess.Send(b)
		default:
			log.Printf("api: unrecognized admin message type %q from %s", msg.Type, sess.Username)
		}
	}
}
