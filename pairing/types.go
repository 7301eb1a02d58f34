package pairing

import "time"

type ConnectionType string

const (
	TypePIN ConnectionType = "pin"
	TypeQR  ConnectionType = "qr"
)

// CameraInfo identifies the camera a connection is bound to.
type CameraInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	DeviceID string `json:"deviceId"`
}

// MediaURLs are the signaling endpoints assigned by the backend for a
// connection. The publisher URL is only present in tokens handed to the
// camera side, the viewer URL only in redeemed connections.
type MediaURLs struct {
	PublisherURL string `json:"publisherUrl,omitempty"`
	ViewerURL    string `json:"viewerUrl,omitempty"`
}

// ConnectionToken is the camera-side view of a pairing. The backend owns
// creation, TTL and PIN/QR encoding; the token is invalid after ExpiresAt
// or an explicit disconnect.
type ConnectionToken struct {
	ConnectionID string         `json:"connectionId"`
	Type         ConnectionType `json:"type"`
	PinCode      string         `json:"pinCode,omitempty"`
	QRCode       string         `json:"qrCode,omitempty"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	TTLSeconds   int            `json:"ttlSeconds"`
	CameraInfo   CameraInfo     `json:"cameraInfo"`
	MediaURLs    MediaURLs      `json:"mediaUrls"`
}

type ViewerInfo struct {
	ClientID    string    `json:"clientId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ConnectionStatus is a read-only snapshot fetched on demand.
type ConnectionStatus struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"` // active, expired, error
	ViewerCount int          `json:"viewerCount,omitempty"`
	Viewers     []ViewerInfo `json:"viewerList,omitempty"`
}

// ConnectionResult is the viewer's view of an established connection,
// independent of the token owner's state.
type ConnectionResult struct {
	ConnectionID string     `json:"connectionId"`
	CameraInfo   CameraInfo `json:"cameraInfo"`
	MediaURLs    MediaURLs  `json:"mediaUrls"`
	Status       string     `json:"status"`
}

type GenerateRequest struct {
	CameraID   string         `json:"cameraId"`
	CameraName string         `json:"cameraName,omitempty"`
	Type       ConnectionType `json:"connectionType"`
	CustomPin  string         `json:"customPin,omitempty"`
}

type ConnectRequest struct {
	Type    ConnectionType `json:"connectionType"`
	PinCode string         `json:"pinCode,omitempty"`
	QRCode  string         `json:"qrCode,omitempty"`
}
