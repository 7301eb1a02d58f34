package camstub

import (
	"log"
	"net/http"
	"sync"

	"github.com/camlink-app/camlink/signal"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type member struct {
	clientID string
	role     signal.Role

	soc    *websocket.Conn
	sendMu sync.Mutex
}

func (m *member) writeJSON(v any) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	return m.soc.WriteJSON(v)
}

// room relays messages between the publisher and the viewer of one
// connection.
type room struct {
	members []*member
}

func (r *room) other(m *member) *member {
	for _, o := range r.members {
		if o != m {
			return o
		}
	}
	return nil
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	soc, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WARN: signal upgrade: %v\n", err)
		return
	}

	var reg signal.RegisterMessage
	if err := soc.ReadJSON(&reg); err != nil || reg.Type != "register" {
		soc.Close()
		return
	}

	m := &member{clientID: reg.ClientID, role: reg.Role, soc: soc}
	if !s.joinRoom(reg.ConnectionID, m) {
		m.writeJSON(&signal.AcceptMessage{Type: "reject", Reason: "room full or connection unknown"})
		soc.Close()
		return
	}
	defer s.leaveRoom(reg.ConnectionID, m)

	s.relayLoop(reg.ConnectionID, m)
}

func (s *Server) joinRoom(connectionID string, m *member) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn := s.conns[connectionID]
	if conn == nil || conn.disconnected || s.Now().After(conn.token.ExpiresAt) {
		return false
	}
	rm := s.rooms[connectionID]
	if rm == nil {
		rm = &room{}
		s.rooms[connectionID] = rm
	}
	if len(rm.members) >= 2 {
		return false
	}
	peer := rm.other(m)
	rm.members = append(rm.members, m)

	m.writeJSON(&signal.AcceptMessage{Type: "accept", IsPeerPresent: peer != nil})
	if peer != nil {
		peer.writeJSON(&signal.Message{Type: "peer-joined"})
	}
	return true
}

func (s *Server) leaveRoom(connectionID string, m *member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm := s.rooms[connectionID]
	if rm == nil {
		return
	}
	for i, o := range rm.members {
		if o == m {
			rm.members = append(rm.members[:i], rm.members[i+1:]...)
			break
		}
	}
	if peer := rm.other(m); peer != nil {
		peer.writeJSON(&signal.Message{Type: "peer-left"})
	}
	if len(rm.members) == 0 {
		delete(s.rooms, connectionID)
	}
	m.soc.Close()
}

func (s *Server) relayLoop(connectionID string, m *member) {
	for {
		var msg signal.Message
		if err := m.soc.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "ping":
			m.writeJSON(&signal.Message{Type: "pong"})
		case "pong":
		case "bye":
			return
		case "offer", "answer", "candidate":
			s.mu.Lock()
			var peer *member
			if rm := s.rooms[connectionID]; rm != nil {
				peer = rm.other(m)
			}
			s.mu.Unlock()
			if peer == nil {
				continue
			}
			if err := peer.writeJSON(&msg); err != nil {
				log.Printf("WARN: relay to %s: %v\n", peer.clientID, err)
			}
		default:
			log.Println("unknown signaling message type:", msg.Type)
		}
	}
}
