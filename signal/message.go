package signal

type Role string

const (
	RolePublisher Role = "publisher"
	RoleViewer    Role = "viewer"
)

type RegisterMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	ClientID     string `json:"clientId"`
	Role         Role   `json:"role"`
	Token        string `json:"token,omitempty"`
}

// AcceptMessage is the relay's answer to a register. Type is "accept" or
// "reject".
type AcceptMessage struct {
	Type          string       `json:"type"`
	IsPeerPresent bool         `json:"isPeerPresent"`
	IceServers    []*IceServer `json:"iceServers,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}

type IceServer struct {
	URLs       []string `json:"urls"`
	Username   *string  `json:"username,omitempty"`
	Credential *string  `json:"credential,omitempty"`
}

type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SdpMid        *string `json:"sdpMid,omitempty"`
	SdpMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Message is an offer, answer or candidate relayed between the two peers
// of a connection, or one of the control types (ping, pong, bye,
// peer-joined, peer-left).
type Message struct {
	Type string        `json:"type"`
	SDP  string        `json:"sdp,omitempty"`
	ICE  *ICECandidate `json:"ice,omitempty"`
}
