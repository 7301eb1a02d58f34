package pairing_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/camlink-app/camlink/camstub"
	"github.com/camlink-app/camlink/pairing"
)

func newStub(t *testing.T) (*camstub.Server, *pairing.Client) {
	t.Helper()
	srv := camstub.New()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, pairing.NewClient(ts.URL)
}

func TestGeneratePIN(t *testing.T) {
	_, client := newStub(t)
	ctx := context.Background()

	token, err := client.GenerateConnection(ctx, &pairing.GenerateRequest{
		CameraID: "cam-1",
		Type:     pairing.TypePIN,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(token.PinCode) != 6 {
		t.Error("pin must be 6 digits, got: ", token.PinCode)
	}
	if token.ConnectionID == "" {
		t.Error("missing connection id")
	}
	left := time.Until(token.ExpiresAt)
	if left < 590*time.Second || left > 610*time.Second {
		t.Error("expiry should be ~600s out, got: ", left)
	}
	if token.TTLSeconds != 600 {
		t.Error("ttlSeconds: ", token.TTLSeconds)
	}
	if token.CameraInfo.ID != "cam-1" {
		t.Error("cameraInfo: ", token.CameraInfo)
	}
	if token.MediaURLs.PublisherURL == "" {
		t.Error("token must carry a publisher url")
	}

	status, err := client.GetConnectionStatus(ctx, token.ConnectionID, token.Type)
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != "active" {
		t.Error("fresh connection must be active, got: ", status.Status)
	}
}

func TestGenerateCustomPin(t *testing.T) {
	_, client := newStub(t)

	token, err := client.GenerateConnection(context.Background(), &pairing.GenerateRequest{
		CameraID:  "cam-1",
		Type:      pairing.TypePIN,
		CustomPin: "424242",
	})
	if err != nil {
		t.Fatal(err)
	}
	if token.PinCode != "424242" {
		t.Error("custom pin not honored: ", token.PinCode)
	}
}

func TestConnectLifecycle(t *testing.T) {
	_, client := newStub(t)
	ctx := context.Background()

	token, err := client.GenerateConnection(ctx, &pairing.GenerateRequest{
		CameraID: "cam-1",
		Type:     pairing.TypeQR,
	})
	if err != nil {
		t.Fatal(err)
	}
	if token.QRCode == "" {
		t.Fatal("qr token must carry a payload")
	}

	result, err := client.ConnectToCamera(ctx, &pairing.ConnectRequest{
		Type:   pairing.TypeQR,
		QRCode: token.QRCode,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.ConnectionID != token.ConnectionID || result.Status != "active" {
		t.Error("unexpected connect result: ", result)
	}
	if result.MediaURLs.ViewerURL == "" {
		t.Error("viewer must receive a viewer url")
	}

	status, err := client.GetConnectionStatus(ctx, token.ConnectionID, token.Type)
	if err != nil {
		t.Fatal(err)
	}
	if status.ViewerCount != 1 {
		t.Error("viewerCount after one connect: ", status.ViewerCount)
	}

	active, err := client.ActiveConnections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != token.ConnectionID {
		t.Error("active list: ", active)
	}

	if err := client.DisconnectConnection(ctx, token.ConnectionID, token.Type); err != nil {
		t.Fatal(err)
	}
	status, err = client.GetConnectionStatus(ctx, token.ConnectionID, token.Type)
	if err != nil {
		t.Fatal(err)
	}
	if status.Status == "active" {
		t.Error("disconnected connection still active")
	}
	if _, err := client.ConnectToCamera(ctx, &pairing.ConnectRequest{Type: pairing.TypeQR, QRCode: token.QRCode}); err == nil {
		t.Error("redeeming a disconnected token must fail")
	}
}

func TestConnectWrongPin(t *testing.T) {
	_, client := newStub(t)

	_, err := client.ConnectToCamera(context.Background(), &pairing.ConnectRequest{
		Type:    pairing.TypePIN,
		PinCode: "000000",
	})
	var apiErr *pairing.APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("expected APIError, got: ", err)
	}
	if apiErr.StatusCode != 404 || apiErr.Message == "" {
		t.Error("backend error must carry status and message: ", apiErr)
	}
}

func TestRefreshExtendsExpiry(t *testing.T) {
	srv, client := newStub(t)
	ctx := context.Background()

	token, err := client.GenerateConnection(ctx, &pairing.GenerateRequest{
		CameraID: "cam-1",
		Type:     pairing.TypePIN,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv.Now = func() time.Time { return time.Now().Add(30 * time.Second) }
	refreshed, err := client.RefreshConnection(ctx, token.ConnectionID, token.Type)
	if err != nil {
		t.Fatal(err)
	}
	if !refreshed.ExpiresAt.After(token.ExpiresAt) {
		t.Error("refresh must extend expiry: ", token.ExpiresAt, refreshed.ExpiresAt)
	}
}

func TestExpiredConnectionRejected(t *testing.T) {
	srv, client := newStub(t)
	ctx := context.Background()

	token, err := client.GenerateConnection(ctx, &pairing.GenerateRequest{
		CameraID: "cam-1",
		Type:     pairing.TypePIN,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv.Now = func() time.Time { return time.Now().Add(601 * time.Second) }

	status, err := client.GetConnectionStatus(ctx, token.ConnectionID, token.Type)
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != "expired" {
		t.Error("status after ttl: ", status.Status)
	}

	_, err = client.ConnectToCamera(ctx, &pairing.ConnectRequest{Type: pairing.TypePIN, PinCode: token.PinCode})
	var apiErr *pairing.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 410 {
		t.Error("expired pin must be rejected with 410: ", err)
	}

	if _, err := client.RefreshConnection(ctx, token.ConnectionID, token.Type); err == nil {
		t.Error("refreshing an expired connection must fail")
	}
}
