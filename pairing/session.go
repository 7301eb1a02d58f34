package pairing

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateGenerating
	StateActive
	StateRefreshing
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateActive:
		return "active"
	case StateRefreshing:
		return "refreshing"
	}
	return "unknown"
}

var ErrInvalidPin = errors.New("pin must be exactly 6 digits")

// Session tracks at most one pairing token for this client. All transitions
// go through one mutex; a refresh that finishes after the token it started
// from was cleared or replaced is discarded.
type Session struct {
	AutoRefresh      bool
	CheckInterval    time.Duration // expiry/refresh sweep period
	RefreshThreshold time.Duration // refresh when TimeLeft() drops below this

	client *Client
	now    func() time.Time

	mu      sync.Mutex
	state   SessionState
	token   *ConnectionToken
	result  *ConnectionResult
	lastErr string
}

func NewSession(client *Client) *Session {
	return &Session{
		AutoRefresh:      true,
		CheckInterval:    30 * time.Second,
		RefreshThreshold: 60 * time.Second,
		client:           client,
		now:              time.Now,
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the currently tracked token, or nil.
func (s *Session) Token() *ConnectionToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Result returns the viewer-side connection established by ConnectWithPin
// or ConnectWithQR, or nil.
func (s *Session) Result() *ConnectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// TimeLeft is the remaining token lifetime, truncated to whole seconds.
// Zero when no token is tracked.
func (s *Session) TimeLeft() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeLeftLocked()
}

func (s *Session) timeLeftLocked() time.Duration {
	if s.token == nil {
		return 0
	}
	left := s.token.ExpiresAt.Sub(s.now()).Truncate(time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// IsExpired reports whether a tracked token has run out. Once the expiry
// sweep clears the token this reads false again.
func (s *Session) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != nil && s.timeLeftLocked() == 0
}

// GeneratePIN requests a new PIN pairing for the camera, replacing any
// prior token. customPin may be empty to let the backend pick one.
func (s *Session) GeneratePIN(ctx context.Context, cameraID, cameraName, customPin string) (*ConnectionToken, error) {
	return s.generate(ctx, &GenerateRequest{
		CameraID:   cameraID,
		CameraName: cameraName,
		Type:       TypePIN,
		CustomPin:  customPin,
	})
}

// GenerateQR requests a new QR pairing for the camera, replacing any prior
// token.
func (s *Session) GenerateQR(ctx context.Context, cameraID, cameraName string) (*ConnectionToken, error) {
	return s.generate(ctx, &GenerateRequest{
		CameraID:   cameraID,
		CameraName: cameraName,
		Type:       TypeQR,
	})
}

func (s *Session) generate(ctx context.Context, req *GenerateRequest) (*ConnectionToken, error) {
	if req.CustomPin != "" && !validPin(req.CustomPin) {
		return nil, ErrInvalidPin
	}
	s.mu.Lock()
	s.state = StateGenerating
	s.lastErr = ""
	s.mu.Unlock()

	token, err := s.client.GenerateConnection(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateIdle
		s.token = nil
		s.lastErr = err.Error()
		return nil, err
	}
	s.state = StateActive
	s.token = token
	return token, nil
}

// Refresh extends the current token. The response is applied only if the
// token it was requested for is still the tracked one.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.token == nil || s.state != StateActive {
		s.mu.Unlock()
		return errors.New("no active token to refresh")
	}
	started := s.token.ConnectionID
	typ := s.token.Type
	s.state = StateRefreshing
	s.mu.Unlock()

	token, err := s.client.RefreshConnection(ctx, started, typ)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil || s.token.ConnectionID != started {
		// Expired or replaced while the refresh was in flight.
		log.Printf("WARN: discarding stale refresh result for %s\n", started)
		return nil
	}
	if err != nil {
		s.state = StateActive
		s.lastErr = err.Error()
		return err
	}
	s.state = StateActive
	s.token = token
	return nil
}

// Status fetches the backend's view of the tracked token's connection.
func (s *Session) Status(ctx context.Context) (*ConnectionStatus, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token == nil {
		return nil, errors.New("no active token")
	}
	return s.client.GetConnectionStatus(ctx, token.ConnectionID, token.Type)
}

// ConnectWithPin redeems a PIN as a viewer. The PIN must be exactly six
// digits; anything else is rejected without a network call.
func (s *Session) ConnectWithPin(ctx context.Context, pin string) (*ConnectionResult, error) {
	if !validPin(pin) {
		s.mu.Lock()
		s.lastErr = ErrInvalidPin.Error()
		s.mu.Unlock()
		return nil, ErrInvalidPin
	}
	return s.connect(ctx, &ConnectRequest{Type: TypePIN, PinCode: pin})
}

// ConnectWithQR redeems a scanned QR payload as a viewer.
func (s *Session) ConnectWithQR(ctx context.Context, payload string) (*ConnectionResult, error) {
	if payload == "" {
		return nil, errors.New("empty qr payload")
	}
	return s.connect(ctx, &ConnectRequest{Type: TypeQR, QRCode: payload})
}

func (s *Session) connect(ctx context.Context, req *ConnectRequest) (*ConnectionResult, error) {
	result, err := s.client.ConnectToCamera(ctx, req)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err.Error()
		return nil, err
	}
	s.lastErr = ""
	s.result = result
	return result, nil
}

// Disconnect tears down the tracked connection. Local state is cleared even
// if the backend call fails.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	token := s.token
	result := s.result
	s.mu.Unlock()

	var err error
	switch {
	case token != nil:
		err = s.client.DisconnectConnection(ctx, token.ConnectionID, token.Type)
	case result != nil:
		err = s.client.DisconnectConnection(ctx, result.ConnectionID, TypePIN)
	}
	if err != nil {
		log.Printf("WARN: disconnect: %v\n", err)
	}
	s.clear()
	return err
}

func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.token = nil
	s.result = nil
}

// Run drives expiry and auto-refresh until ctx is cancelled. Each sweep
// clears an expired token, or refreshes one about to expire.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Session) sweep(ctx context.Context) {
	s.mu.Lock()
	if s.token == nil || s.state != StateActive {
		s.mu.Unlock()
		return
	}
	left := s.timeLeftLocked()
	id := s.token.ConnectionID
	s.mu.Unlock()

	if left == 0 {
		log.Printf("token %s expired, clearing\n", id)
		s.clear()
		return
	}
	if s.AutoRefresh && left <= s.RefreshThreshold {
		if err := s.Refresh(ctx); err != nil {
			log.Printf("WARN: auto refresh: %v\n", err)
		}
	}
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
