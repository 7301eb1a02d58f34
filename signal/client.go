package signal

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// JSONSocket is the transport under Conn. *websocket.Conn satisfies it; a
// pipe-backed fake works in tests.
type JSONSocket interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Conn is one registered peer on the signaling relay. Offers, answers and
// candidates from the remote peer arrive on Msg; the channel closes when
// the connection ends and LastError holds the cause.
type Conn struct {
	Msg       <-chan *Message
	Accept    *AcceptMessage
	ClientID  string
	LastError error

	soc        JSONSocket
	closed     atomic.Bool
	ready      atomic.Bool
	done       chan struct{}
	candidates []*ICECandidate

	sendLock sync.Mutex
}

// Dial connects to the relay and registers for the given connection.
func Dial(signalingURL, connectionID string, role Role, token string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(signalingURL, nil)
	if err != nil {
		return nil, err
	}
	return Start(ws, connectionID, role, token)
}

// Start registers on an already-open socket.
func Start(soc JSONSocket, connectionID string, role Role, token string) (*Conn, error) {
	done := make(chan struct{})
	msgCh := make(chan *Message, 32)
	conn := &Conn{
		soc:      soc,
		done:     done,
		Msg:      msgCh,
		ClientID: uuid.New().String(),
	}
	if err := conn.register(connectionID, role, token); err != nil {
		soc.Close()
		return nil, err
	}
	go conn.recvLoop(msgCh)
	return conn, nil
}

func (c *Conn) register(connectionID string, role Role, token string) error {
	err := c.soc.WriteJSON(&RegisterMessage{
		Type:         "register",
		ConnectionID: connectionID,
		ClientID:     c.ClientID,
		Role:         role,
		Token:        token,
	})
	if err != nil {
		return err
	}
	var accept AcceptMessage
	if err := c.soc.ReadJSON(&accept); err != nil {
		return err
	}
	if accept.Type != "accept" {
		return fmt.Errorf("register rejected: %s", accept.Reason)
	}
	c.Accept = &accept
	return nil
}

func (c *Conn) recvLoop(msgCh chan<- *Message) {
	defer c.Close()
	defer close(msgCh)
	for {
		var msg Message
		err := c.soc.ReadJSON(&msg)
		if err != nil {
			c.LastError = err
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		switch msg.Type {
		case "ping":
			if err := c.soc.WriteJSON(&Message{Type: "pong"}); err != nil {
				c.LastError = err
				return
			}
		case "pong", "peer-joined", "peer-left":
		case "bye":
			return
		case "offer", "answer", "candidate":
			select {
			case <-c.done:
				return
			case msgCh <- &msg:
			}
		default:
			log.Println("unknown signaling message type:", msg.Type)
		}
		// Candidates gathered before the SDP exchange are flushed once
		// either side of it arrives.
		if msg.Type == "offer" || msg.Type == "answer" {
			c.ready.Store(true)
			for _, cand := range c.candidates {
				c.send(&Message{Type: "candidate", ICE: cand})
			}
			c.candidates = nil
		}
	}
}

func (c *Conn) send(msg *Message) error {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	return c.soc.WriteJSON(msg)
}

func (c *Conn) Offer(sdp string) error {
	return c.send(&Message{Type: "offer", SDP: sdp})
}

func (c *Conn) Answer(sdp string) error {
	return c.send(&Message{Type: "answer", SDP: sdp})
}

func (c *Conn) Candidate(candidate string, id *string, index *uint16) error {
	cand := &ICECandidate{Candidate: candidate, SdpMid: id, SdpMLineIndex: index}
	if !c.ready.Load() {
		c.candidates = append(c.candidates, cand)
		return nil
	}
	return c.send(&Message{Type: "candidate", ICE: cand})
}

func (c *Conn) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	c.soc.Close()
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}
