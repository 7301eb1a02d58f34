// Package camstub is an in-memory stand-in for the camlink backend: the
// pairing REST API, the probe endpoints and a two-peer signaling relay.
// It backs the camstubd development binary and the end-to-end tests.
package camstub

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/camlink-app/camlink/pairing"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type connection struct {
	token        pairing.ConnectionToken
	viewers      []pairing.ViewerInfo
	disconnected bool
}

// Server holds all pairing state in memory. Zero value is not usable; use
// New.
type Server struct {
	TTL time.Duration

	// Now is swappable in tests.
	Now func() time.Time

	mu    sync.Mutex
	conns map[string]*connection
	byPin map[string]string
	byQR  map[string]string

	rooms map[string]*room
}

func New() *Server {
	return &Server{
		TTL:   600 * time.Second,
		Now:   time.Now,
		conns: map[string]*connection{},
		byPin: map[string]string{},
		byQR:  map[string]string{},
		rooms: map[string]*room{},
	}
}

// Handler returns the full route set.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/profile", s.handleHealth).Methods("GET")
	r.HandleFunc("/connections/generate", s.handleGenerate).Methods("POST")
	r.HandleFunc("/connections/connect", s.handleConnect).Methods("POST")
	r.HandleFunc("/connections/active", s.handleActive).Methods("GET")
	r.HandleFunc("/connections/{id}/refresh", s.handleRefresh).Methods("POST")
	r.HandleFunc("/connections/{id}/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/connections/{id}", s.handleDisconnect).Methods("DELETE")
	r.HandleFunc("/signal", s.handleSignal).Methods("GET")
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func validPin(pin string) bool {
	if len(pin) != 6 {
		return false
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func randomPin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n), nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req pairing.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CameraID == "" {
		writeError(w, http.StatusBadRequest, "cameraId is required")
		return
	}

	id := uuid.New().String()
	token := pairing.ConnectionToken{
		ConnectionID: id,
		Type:         req.Type,
		ExpiresAt:    s.Now().Add(s.TTL),
		TTLSeconds:   int(s.TTL / time.Second),
		CameraInfo: pairing.CameraInfo{
			ID:       req.CameraID,
			Name:     req.CameraName,
			DeviceID: r.Header.Get("X-Device-Id"),
		},
		MediaURLs: pairing.MediaURLs{
			PublisherURL: "ws://" + r.Host + "/signal",
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch req.Type {
	case pairing.TypePIN:
		pin := req.CustomPin
		if pin == "" {
			var err error
			if pin, err = randomPin(); err != nil {
				writeError(w, http.StatusInternalServerError, "pin generation failed")
				return
			}
		} else if !validPin(pin) {
			writeError(w, http.StatusBadRequest, "customPin must be exactly 6 digits")
			return
		}
		if _, taken := s.byPin[pin]; taken {
			writeError(w, http.StatusConflict, "pin already in use")
			return
		}
		token.PinCode = pin
		s.byPin[pin] = id
	case pairing.TypeQR:
		payload := "camlink://connect?token=" + uuid.New().String()
		token.QRCode = payload
		s.byQR[payload] = id
	default:
		writeError(w, http.StatusBadRequest, "unknown connection type")
		return
	}
	s.conns[id] = &connection{token: token}

	writeJSON(w, http.StatusCreated, &token)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req pairing.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var id string
	var ok bool
	switch req.Type {
	case pairing.TypePIN:
		id, ok = s.byPin[req.PinCode]
	case pairing.TypeQR:
		id, ok = s.byQR[req.QRCode]
	default:
		writeError(w, http.StatusBadRequest, "unknown connection type")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no matching connection")
		return
	}
	conn := s.conns[id]
	if conn == nil || conn.disconnected || s.Now().After(conn.token.ExpiresAt) {
		writeError(w, http.StatusGone, "connection expired")
		return
	}

	conn.viewers = append(conn.viewers, pairing.ViewerInfo{
		ClientID:    r.Header.Get("X-Device-Id"),
		ConnectedAt: s.Now(),
	})

	writeJSON(w, http.StatusOK, &pairing.ConnectionResult{
		ConnectionID: id,
		CameraInfo:   conn.token.CameraInfo,
		MediaURLs: pairing.MediaURLs{
			ViewerURL: "ws://" + r.Host + "/signal",
		},
		Status: "active",
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conns[id]
	if conn == nil || conn.disconnected {
		writeError(w, http.StatusNotFound, "unknown connection")
		return
	}
	if s.Now().After(conn.token.ExpiresAt) {
		writeError(w, http.StatusGone, "connection expired")
		return
	}
	conn.token.ExpiresAt = s.Now().Add(s.TTL)
	writeJSON(w, http.StatusOK, &conn.token)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conns[id]
	if conn == nil {
		writeError(w, http.StatusNotFound, "unknown connection")
		return
	}
	writeJSON(w, http.StatusOK, s.statusLocked(conn))
}

func (s *Server) statusLocked(conn *connection) *pairing.ConnectionStatus {
	status := "active"
	if conn.disconnected {
		status = "error"
	} else if s.Now().After(conn.token.ExpiresAt) {
		status = "expired"
	}
	return &pairing.ConnectionStatus{
		ID:          conn.token.ConnectionID,
		Status:      status,
		ViewerCount: len(conn.viewers),
		Viewers:     conn.viewers,
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conns[id]
	if conn == nil {
		writeError(w, http.StatusNotFound, "unknown connection")
		return
	}
	conn.disconnected = true
	delete(s.byPin, conn.token.PinCode)
	delete(s.byQR, conn.token.QRCode)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := []pairing.ConnectionStatus{}
	for _, conn := range s.conns {
		if conn.disconnected || s.Now().After(conn.token.ExpiresAt) {
			continue
		}
		list = append(list, *s.statusLocked(conn))
	}
	writeJSON(w, http.StatusOK, list)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: write response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]string{"message": msg},
	})
}
