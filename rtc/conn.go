package rtc

import (
	"context"
	"log"

	"github.com/camlink-app/camlink/signal"
	"github.com/pion/webrtc/v3"
)

// PeerConn couples a signaling registration with a pion peer connection.
type PeerConn struct {
	PC *webrtc.PeerConnection

	sig *signal.Conn
}

// ChannelHandler receives lifecycle events for one named data channel.
type ChannelHandler interface {
	Label() string
	OnOpen(*webrtc.DataChannel)
	OnClose(*webrtc.DataChannel)
	OnMessage(*webrtc.DataChannel, webrtc.DataChannelMessage)
}

// ChannelCallback adapts plain functions to ChannelHandler.
type ChannelCallback struct {
	Name          string
	OnOpenFunc    func(*webrtc.DataChannel)
	OnCloseFunc   func(*webrtc.DataChannel)
	OnMessageFunc func(*webrtc.DataChannel, webrtc.DataChannelMessage)
}

func (c *ChannelCallback) Label() string {
	return c.Name
}

func (c *ChannelCallback) OnOpen(ch *webrtc.DataChannel) {
	if c.OnOpenFunc != nil {
		c.OnOpenFunc(ch)
	}
}

func (c *ChannelCallback) OnClose(ch *webrtc.DataChannel) {
	if c.OnCloseFunc != nil {
		c.OnCloseFunc(ch)
	}
}

func (c *ChannelCallback) OnMessage(ch *webrtc.DataChannel, msg webrtc.DataChannelMessage) {
	if c.OnMessageFunc != nil {
		c.OnMessageFunc(ch, msg)
	}
}

func initChannelHandler(d *webrtc.DataChannel, handler ChannelHandler) {
	d.OnOpen(func() { handler.OnOpen(d) })
	d.OnMessage(func(msg webrtc.DataChannelMessage) { handler.OnMessage(d, msg) })
	d.OnClose(func() { handler.OnClose(d) })
}

// Connect registers on the signaling relay and builds a peer connection
// configured with the ICE servers the relay hands back.
func Connect(signalingURL, connectionID string, role signal.Role, token string) (*PeerConn, error) {
	sig, err := signal.Dial(signalingURL, connectionID, role, token)
	if err != nil {
		return nil, err
	}

	rtcConfig := webrtc.Configuration{}
	for _, ice := range sig.Accept.IceServers {
		server := webrtc.ICEServer{URLs: ice.URLs}
		if ice.Username != nil {
			server.Username = *ice.Username
		}
		if ice.Credential != nil {
			server.Credential = *ice.Credential
		}
		rtcConfig.ICEServers = append(rtcConfig.ICEServers, server)
	}

	pc, err := webrtc.NewPeerConnection(rtcConfig)
	if err != nil {
		sig.Close()
		return nil, err
	}
	return &PeerConn{PC: pc, sig: sig}, nil
}

// PeerPresent reports whether the other side of the connection had already
// registered when we did. The side that sees a present peer creates the
// offer and the data channels.
func (c *PeerConn) PeerPresent() bool {
	return c.sig.Accept.IsPeerPresent
}

// Start wires the data channels and drives the offer/answer exchange.
// Tracks or channels added directly on PC must be added before Start.
func (c *PeerConn) Start(channels []ChannelHandler) {
	c.PC.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Printf("peer connection state: %s\n", s.String())
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateDisconnected || s == webrtc.PeerConnectionStateClosed {
			c.sig.Close()
		}
	})

	// Trickle ICE
	c.PC.OnICECandidate(func(ic *webrtc.ICECandidate) {
		if ic == nil {
			return
		}
		cand := ic.ToJSON()
		c.sig.Candidate(cand.Candidate, cand.SDPMid, cand.SDPMLineIndex)
	})

	if len(channels) > 0 {
		c.PC.OnDataChannel(func(d *webrtc.DataChannel) {
			for _, h := range channels {
				if h.Label() == d.Label() {
					initChannelHandler(d, h)
				}
			}
		})
		if c.PeerPresent() {
			for _, h := range channels {
				dc, err := c.PC.CreateDataChannel(h.Label(), nil)
				if err != nil {
					log.Printf("WARN: create channel %s: %v\n", h.Label(), err)
					continue
				}
				initChannelHandler(dc, h)
			}
		}
	}

	if c.PeerPresent() {
		offer, err := c.PC.CreateOffer(nil)
		if err != nil {
			log.Printf("WARN: create offer: %v\n", err)
			c.sig.Close()
			return
		}
		if err := c.PC.SetLocalDescription(offer); err != nil {
			log.Printf("WARN: set local description: %v\n", err)
			c.sig.Close()
			return
		}
		c.sig.Offer(offer.SDP)
	}

	go c.signalLoop()
}

func (c *PeerConn) signalLoop() {
	for msg := range c.sig.Msg {
		switch msg.Type {
		case "candidate":
			if msg.ICE == nil {
				continue
			}
			cand := webrtc.ICECandidateInit{
				Candidate:     msg.ICE.Candidate,
				SDPMid:        msg.ICE.SdpMid,
				SDPMLineIndex: msg.ICE.SdpMLineIndex,
			}
			if err := c.PC.AddICECandidate(cand); err != nil {
				log.Printf("WARN: add candidate: %v\n", err)
			}
		case "offer":
			desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}
			if err := c.PC.SetRemoteDescription(desc); err != nil {
				log.Printf("WARN: set remote offer: %v\n", err)
				continue
			}
			answer, err := c.PC.CreateAnswer(nil)
			if err != nil {
				log.Printf("WARN: create answer: %v\n", err)
				continue
			}
			if err := c.PC.SetLocalDescription(answer); err != nil {
				log.Printf("WARN: set local description: %v\n", err)
				continue
			}
			c.sig.Answer(answer.SDP)
		case "answer":
			desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}
			if err := c.PC.SetRemoteDescription(desc); err != nil {
				log.Println(err)
			}
		default:
			log.Println("unknown message:", msg.Type)
		}
	}
}

func (c *PeerConn) Close() error {
	c.sig.Close()
	return c.PC.Close()
}

// Wait blocks until the signaling connection ends or ctx is cancelled.
func (c *PeerConn) Wait(ctx context.Context) error {
	select {
	case <-c.sig.Done():
		return c.sig.LastError
	case <-ctx.Done():
		return ctx.Err()
	}
}
