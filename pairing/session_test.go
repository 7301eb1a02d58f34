package pairing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// tokenServer serves just enough of the pairing API for session tests.
func tokenServer(t *testing.T, ttl time.Duration) (*httptest.Server, *int32) {
	t.Helper()
	var requests int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		token := ConnectionToken{
			ConnectionID: "conn-1",
			Type:         TypePIN,
			PinCode:      "123456",
			ExpiresAt:    time.Now().Add(ttl),
			TTLSeconds:   int(ttl / time.Second),
			CameraInfo:   CameraInfo{ID: "cam-1"},
		}
		switch {
		case r.URL.Path == "/connections/generate":
			json.NewEncoder(w).Encode(&token)
		case strings.HasSuffix(r.URL.Path, "/refresh"):
			json.NewEncoder(w).Encode(&token)
		case r.URL.Path == "/connections/connect":
			json.NewEncoder(w).Encode(&ConnectionResult{ConnectionID: "conn-1", Status: "active"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts, &requests
}

func TestConnectWithPin_Validation(t *testing.T) {
	ts, requests := tokenServer(t, time.Minute)
	session := NewSession(NewClient(ts.URL))

	for _, pin := range []string{"", "12345", "1234567", "12345a", "abcdef", "12 456"} {
		_, err := session.ConnectWithPin(context.Background(), pin)
		if err != ErrInvalidPin {
			t.Error("pin should be rejected locally: ", pin, err)
		}
	}
	if n := atomic.LoadInt32(requests); n != 0 {
		t.Error("local validation must not issue network calls, saw: ", n)
	}

	if _, err := session.ConnectWithPin(context.Background(), "123456"); err != nil {
		t.Fatal("valid pin rejected: ", err)
	}
	if session.Result() == nil || session.Result().Status != "active" {
		t.Error("connect result not stored")
	}
}

func TestGenerateTransitions(t *testing.T) {
	ts, _ := tokenServer(t, 10*time.Minute)
	session := NewSession(NewClient(ts.URL))

	if session.State() != StateIdle {
		t.Fatal("fresh session must be idle")
	}
	token, err := session.GeneratePIN(context.Background(), "cam-1", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if session.State() != StateActive || session.Token() != token {
		t.Error("generate must end active with the token stored")
	}
	if session.IsExpired() {
		t.Error("fresh token reads expired")
	}
}

func TestGenerateFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"message":"backend down"}}`))
	}))
	t.Cleanup(ts.Close)
	session := NewSession(NewClient(ts.URL))

	if _, err := session.GeneratePIN(context.Background(), "cam-1", "", ""); err == nil {
		t.Fatal("expected failure")
	}
	if session.State() != StateIdle || session.Token() != nil {
		t.Error("failed generate must return to idle with no token")
	}
	if !strings.Contains(session.LastError(), "backend down") {
		t.Error("backend message not surfaced: ", session.LastError())
	}
}

func TestTimeLeft(t *testing.T) {
	session := NewSession(NewClient("http://unused"))
	base := time.Now()
	now := base
	session.now = func() time.Time { return now }
	session.token = &ConnectionToken{ConnectionID: "conn-1", ExpiresAt: base.Add(10 * time.Second)}
	session.state = StateActive

	if got := session.TimeLeft(); got != 10*time.Second {
		t.Error("TimeLeft at start: ", got)
	}

	// Monotonically non-increasing absent a refresh.
	prev := session.TimeLeft()
	for _, advance := range []time.Duration{3 * time.Second, 3 * time.Second, 5 * time.Second} {
		now = now.Add(advance)
		got := session.TimeLeft()
		if got > prev {
			t.Error("TimeLeft increased without refresh: ", prev, got)
		}
		prev = got
	}
	if got := session.TimeLeft(); got != 0 {
		t.Error("TimeLeft past expiry: ", got)
	}
	if !session.IsExpired() {
		t.Error("expired token with TimeLeft 0 must read expired")
	}

	// The sweep clears the token; IsExpired flips back to false.
	session.sweep(context.Background())
	if session.Token() != nil || session.State() != StateIdle {
		t.Error("sweep must clear an expired token")
	}
	if session.IsExpired() {
		t.Error("IsExpired must be false once the token is cleared")
	}
}

func TestSweepAutoRefresh(t *testing.T) {
	ts, _ := tokenServer(t, 30*time.Second)
	session := NewSession(NewClient(ts.URL))
	session.RefreshThreshold = 60 * time.Second

	before, err := session.GeneratePIN(context.Background(), "cam-1", "", "")
	if err != nil {
		t.Fatal(err)
	}

	// TimeLeft (30s) is under the threshold, so the sweep refreshes.
	session.sweep(context.Background())
	if session.State() != StateActive {
		t.Fatal("sweep refresh must settle back to active: ", session.State())
	}
	after := session.Token()
	if after == nil || after.ExpiresAt.Before(before.ExpiresAt) {
		t.Error("refresh did not extend the token")
	}
}

// gateTransport blocks each request until released, to hold a refresh in
// flight.
type gateTransport struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	g.entered <- struct{}{}
	<-g.release
	return http.DefaultTransport.RoundTrip(req)
}

func TestStaleRefreshDiscarded(t *testing.T) {
	ts, _ := tokenServer(t, time.Minute)
	client := NewClient(ts.URL)
	session := NewSession(client)

	if _, err := session.GeneratePIN(context.Background(), "cam-1", "", ""); err != nil {
		t.Fatal(err)
	}

	gate := &gateTransport{entered: make(chan struct{}), release: make(chan struct{})}
	client.hc = &http.Client{Transport: gate}

	done := make(chan error)
	go func() { done <- session.Refresh(context.Background()) }()
	<-gate.entered

	// Token expires and is cleared while the refresh is in flight.
	session.clear()
	close(gate.release)

	if err := <-done; err != nil {
		t.Fatal("discarded refresh must not surface an error: ", err)
	}
	if session.Token() != nil || session.State() != StateIdle {
		t.Error("late refresh result must not resurrect a cleared token")
	}
}

func TestDisconnectClearsLocalState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			// Server-side failure; the client must still clear.
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"boom"}}`))
		default:
			json.NewEncoder(w).Encode(&ConnectionToken{
				ConnectionID: "conn-1",
				Type:         TypePIN,
				PinCode:      "123456",
				ExpiresAt:    time.Now().Add(time.Minute),
			})
		}
	}))
	t.Cleanup(ts.Close)
	session := NewSession(NewClient(ts.URL))

	if _, err := session.GeneratePIN(context.Background(), "cam-1", "", ""); err != nil {
		t.Fatal(err)
	}
	if err := session.Disconnect(context.Background()); err == nil {
		t.Error("backend failure should be reported")
	}
	if session.Token() != nil || session.State() != StateIdle {
		t.Error("disconnect must clear local state regardless of the backend outcome")
	}
}

func TestGenerateCustomPinValidation(t *testing.T) {
	ts, requests := tokenServer(t, time.Minute)
	session := NewSession(NewClient(ts.URL))

	if _, err := session.GeneratePIN(context.Background(), "cam-1", "", "12ab56"); err != ErrInvalidPin {
		t.Error("malformed custom pin must be rejected locally: ", err)
	}
	if n := atomic.LoadInt32(requests); n != 0 {
		t.Error("local validation must not issue network calls, saw: ", n)
	}
}
