package camstub

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/camlink-app/camlink/pairing"
)

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGenerateValidation(t *testing.T) {
	h := New().Handler()

	w := postJSON(t, h, "/connections/generate", &pairing.GenerateRequest{Type: pairing.TypePIN})
	if w.Code != http.StatusBadRequest {
		t.Error("missing cameraId must be rejected: ", w.Code)
	}

	w = postJSON(t, h, "/connections/generate", &pairing.GenerateRequest{
		CameraID: "cam-1", Type: pairing.TypePIN, CustomPin: "99",
	})
	if w.Code != http.StatusBadRequest {
		t.Error("short custom pin must be rejected: ", w.Code)
	}

	w = postJSON(t, h, "/connections/generate", &pairing.GenerateRequest{
		CameraID: "cam-1", Type: "carrier-pigeon",
	})
	if w.Code != http.StatusBadRequest {
		t.Error("unknown type must be rejected: ", w.Code)
	}
}

func TestPinConflict(t *testing.T) {
	h := New().Handler()
	req := &pairing.GenerateRequest{CameraID: "cam-1", Type: pairing.TypePIN, CustomPin: "111111"}

	if w := postJSON(t, h, "/connections/generate", req); w.Code != http.StatusCreated {
		t.Fatal("first generate: ", w.Code)
	}
	if w := postJSON(t, h, "/connections/generate", req); w.Code != http.StatusConflict {
		t.Error("duplicate pin must conflict: ", w.Code)
	}
}

func TestExpiryEnforcedOnRead(t *testing.T) {
	srv := New()
	h := srv.Handler()

	w := postJSON(t, h, "/connections/generate", &pairing.GenerateRequest{
		CameraID: "cam-1", Type: pairing.TypePIN,
	})
	if w.Code != http.StatusCreated {
		t.Fatal("generate: ", w.Code)
	}
	var token pairing.ConnectionToken
	if err := json.Unmarshal(w.Body.Bytes(), &token); err != nil {
		t.Fatal(err)
	}

	srv.Now = func() time.Time { return time.Now().Add(2 * srv.TTL) }

	req := httptest.NewRequest(http.MethodGet, "/connections/"+token.ConnectionID+"/status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var status pairing.ConnectionStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "expired" {
		t.Error("expired connection reads as: ", status.Status)
	}

	active := httptest.NewRecorder()
	h.ServeHTTP(active, httptest.NewRequest(http.MethodGet, "/connections/active", nil))
	var list []pairing.ConnectionStatus
	if err := json.Unmarshal(active.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Error("expired connections must not be listed as active: ", list)
	}
}

func TestUnknownConnection(t *testing.T) {
	h := New().Handler()
	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/connections/nope/status"},
		{http.MethodPost, "/connections/nope/refresh"},
		{http.MethodDelete, "/connections/nope"},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusNotFound {
			t.Error(tc.method, tc.path, " expected 404, got: ", rec.Code)
		}
	}
}
