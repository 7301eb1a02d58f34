package pairing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// APIError is a backend-reported failure (non-2xx with a structured body).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.StatusCode, e.Message)
}

// Client wraps the pairing endpoints of the backend. It performs no retries
// and no validation beyond parameter presence; retry and PIN format rules
// live in Session.
type Client struct {
	BaseURL  string
	DeviceID string

	hc *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		DeviceID: uuid.New().String(),
		hc:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) GenerateConnection(ctx context.Context, req *GenerateRequest) (*ConnectionToken, error) {
	if req.CameraID == "" {
		return nil, errors.New("cameraId is required")
	}
	if req.Type != TypePIN && req.Type != TypeQR {
		return nil, fmt.Errorf("unknown connection type: %s", req.Type)
	}
	var token ConnectionToken
	err := c.do(ctx, http.MethodPost, "/connections/generate", req, &token)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (c *Client) ConnectToCamera(ctx context.Context, req *ConnectRequest) (*ConnectionResult, error) {
	switch req.Type {
	case TypePIN:
		if req.PinCode == "" {
			return nil, errors.New("pinCode is required for pin connections")
		}
	case TypeQR:
		if req.QRCode == "" {
			return nil, errors.New("qrCode is required for qr connections")
		}
	default:
		return nil, fmt.Errorf("unknown connection type: %s", req.Type)
	}
	var result ConnectionResult
	err := c.do(ctx, http.MethodPost, "/connections/connect", req, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) RefreshConnection(ctx context.Context, id string, typ ConnectionType) (*ConnectionToken, error) {
	if id == "" {
		return nil, errors.New("connection id is required")
	}
	body := map[string]ConnectionType{"connectionType": typ}
	var token ConnectionToken
	err := c.do(ctx, http.MethodPost, "/connections/"+url.PathEscape(id)+"/refresh", body, &token)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (c *Client) GetConnectionStatus(ctx context.Context, id string, typ ConnectionType) (*ConnectionStatus, error) {
	if id == "" {
		return nil, errors.New("connection id is required")
	}
	path := "/connections/" + url.PathEscape(id) + "/status"
	if typ != "" {
		path += "?type=" + url.QueryEscape(string(typ))
	}
	var status ConnectionStatus
	err := c.do(ctx, http.MethodGet, path, nil, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) DisconnectConnection(ctx context.Context, id string, typ ConnectionType) error {
	if id == "" {
		return errors.New("connection id is required")
	}
	body := map[string]ConnectionType{"connectionType": typ}
	return c.do(ctx, http.MethodDelete, "/connections/"+url.PathEscape(id), body, nil)
}

func (c *Client) ActiveConnections(ctx context.Context) ([]ConnectionStatus, error) {
	var list []ConnectionStatus
	err := c.do(ctx, http.MethodGet, "/connections/active", nil, &list)
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-Id", c.DeviceID)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return parseAPIError(res)
	}
	if out == nil {
		io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func parseAPIError(res *http.Response) error {
	apiErr := &APIError{StatusCode: res.StatusCode, Message: res.Status}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err == nil {
		if body.Error.Message != "" {
			apiErr.Message = body.Error.Message
		} else if body.Message != "" {
			apiErr.Message = body.Message
		}
	}
	return apiErr
}
