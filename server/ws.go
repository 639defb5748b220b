package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/CodeUnit7/Isiziba/core"
	"github.com/CodeUnit7/Isiziba/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard and agent runtimes connect from arbitrary origins;
	// identity is established by the identify handshake, not the origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and runs its read loop. Inbound
// frames are control-only: identify and identify_view. Anything else is
// logged and ignored so a misbehaving client cannot wedge the loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.Logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := hub.NewWSConn(raw)
	s.hub.Register(conn)
	defer s.hub.Disconnect(conn)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := core.DecodeClientMessage(data)
		if err != nil {
			s.opts.Logger.Warn("websocket message error", "remote", conn.RemoteAddr(), "error", err)
			continue
		}
		switch msg.Type {
		case core.MessageTypeIdentifyView:
			s.hub.IdentifyViewer(conn)
		case core.MessageTypeIdentify:
			if msg.AgentID == "" || msg.Credential == "" {
				continue
			}
			if _, err := s.auth.VerifyIdentity(r.Context(), msg.AgentID, msg.Credential); err != nil {
				s.opts.Logger.Warn("identity verification failed",
					"agent_id", msg.AgentID, "remote", conn.RemoteAddr(), "error", err)
				continue
			}
			s.hub.IdentifyAgent(msg.AgentID, conn)
		default:
			// Unknown control frames are tolerated.
		}
	}
}
