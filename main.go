package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/camlink-app/camlink/discovery"
	"github.com/camlink-app/camlink/pairing"
	"github.com/camlink-app/camlink/rtc"
	sig "github.com/camlink-app/camlink/signal"
	"github.com/pion/webrtc/v3"
)

type Config struct {
	APIBase      string
	SignalingURL string

	ProbePort      int
	ProbePath      string
	ProbeTimeoutMs int
	CandidateIPs   []string
	ScanRanges     []string

	CameraID   string
	CameraName string

	AutoRefresh         bool
	CheckIntervalSec    int
	RefreshThresholdSec int

	QRImagePath string
}

func DefaultConfig() *Config {
	var config Config
	config.ProbePort = 4001
	config.ProbePath = "/api/health"
	config.ProbeTimeoutMs = 2000
	config.CameraID = "cam-1"
	config.CameraName = "Home Camera"
	config.AutoRefresh = true
	config.CheckIntervalSec = 30
	config.RefreshThresholdSec = 60
	config.QRImagePath = "pairing-qr.png"
	return &config
}

func loadConfig(confPath string) *Config {
	config := DefaultConfig()

	_, err := toml.DecodeFile(confPath, config)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("WARN: %s not found. use default settings.\n", confPath)
	} else if err != nil {
		log.Fatal("Failed to load ", confPath, err)
	}
	return config
}

func newDiscovery(config *Config) *discovery.Discovery {
	return discovery.New(discovery.Options{
		Port:         config.ProbePort,
		ProbePath:    config.ProbePath,
		ProbeTimeout: time.Duration(config.ProbeTimeoutMs) * time.Millisecond,
		CandidateIPs: config.CandidateIPs,
		ScanRanges:   config.ScanRanges,
	})
}

// apiBase resolves the backend base URL, probing the local network when the
// config does not pin one.
func apiBase(ctx context.Context, config *Config, d *discovery.Discovery) (string, error) {
	if config.APIBase != "" {
		return config.APIBase, nil
	}
	if _, err := d.FindServer(ctx); err != nil {
		return "", err
	}
	return d.BaseURL(), nil
}

func signalingURL(config *Config, fromBackend string) string {
	if config.SignalingURL != "" {
		return config.SignalingURL
	}
	return fromBackend
}

func newSession(config *Config, client *pairing.Client) *pairing.Session {
	session := pairing.NewSession(client)
	session.AutoRefresh = config.AutoRefresh
	session.CheckInterval = time.Duration(config.CheckIntervalSec) * time.Second
	session.RefreshThreshold = time.Duration(config.RefreshThresholdSec) * time.Second
	return session
}

func runDiscover(ctx context.Context, config *Config) error {
	servers, err := newDiscovery(config).DiscoverServers(ctx)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		return discovery.ErrNoServer
	}
	for _, s := range servers {
		fmt.Printf("%s:%d\t%v\n", s.IP, s.Port, s.ResponseTime)
	}
	return nil
}

// runPair generates a pairing token for this camera, keeps it refreshed and
// publishes on the assigned signaling room until interrupted.
func runPair(ctx context.Context, config *Config, connType pairing.ConnectionType, customPin string) error {
	base, err := apiBase(ctx, config, newDiscovery(config))
	if err != nil {
		return err
	}
	client := pairing.NewClient(base)
	session := newSession(config, client)
	defer session.Disconnect(context.Background())

	var token *pairing.ConnectionToken
	switch connType {
	case pairing.TypePIN:
		token, err = session.GeneratePIN(ctx, config.CameraID, config.CameraName, customPin)
		if err != nil {
			return err
		}
		log.Println("PIN: ", token.PinCode)
	case pairing.TypeQR:
		token, err = session.GenerateQR(ctx, config.CameraID, config.CameraName)
		if err != nil {
			return err
		}
		if err := pairing.WriteQRImage(token, config.QRImagePath, 256); err != nil {
			return err
		}
		log.Println("QR image written to ", config.QRImagePath)
	default:
		return fmt.Errorf("unknown connection type: %s", connType)
	}
	log.Printf("connection %s expires at %s\n", token.ConnectionID, token.ExpiresAt.Format(time.RFC3339))

	go session.Run(ctx)

	return publish(ctx, signalingURL(config, token.MediaURLs.PublisherURL), session, token)
}

func publish(ctx context.Context, wsURL string, session *pairing.Session, token *pairing.ConnectionToken) error {
	conn, err := rtc.Connect(wsURL, token.ConnectionID, sig.RolePublisher, token.PinCode)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.Start([]rtc.ChannelHandler{&rtc.ChannelCallback{
		Name: "cameraControl",
		OnMessageFunc: func(d *webrtc.DataChannel, msg webrtc.DataChannelMessage) {
			log.Println("control command: ", string(msg.Data))
		},
	}, &rtc.ChannelCallback{
		Name: "cameraStatus",
		OnOpenFunc: func(d *webrtc.DataChannel) {
			go func() {
				ticker := time.NewTicker(10 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						status, err := session.Status(ctx)
						if err != nil {
							continue
						}
						j, _ := json.Marshal(status)
						d.SendText(string(j))
					}
				}
			}()
		},
	}})

	return conn.Wait(ctx)
}

// runConnect redeems a PIN or QR payload as a viewer and attaches to the
// camera's channels.
func runConnect(ctx context.Context, config *Config, pin, qr string) error {
	base, err := apiBase(ctx, config, newDiscovery(config))
	if err != nil {
		return err
	}
	session := newSession(config, pairing.NewClient(base))

	var result *pairing.ConnectionResult
	if pin != "" {
		result, err = session.ConnectWithPin(ctx, pin)
	} else {
		result, err = session.ConnectWithQR(ctx, qr)
	}
	if err != nil {
		return err
	}
	log.Printf("connected to camera %s (%s)\n", result.CameraInfo.Name, result.ConnectionID)

	conn, err := rtc.Connect(signalingURL(config, result.MediaURLs.ViewerURL), result.ConnectionID, sig.RoleViewer, pin)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.Start([]rtc.ChannelHandler{&rtc.ChannelCallback{
		Name: "cameraStatus",
		OnMessageFunc: func(d *webrtc.DataChannel, msg webrtc.DataChannelMessage) {
			log.Println("camera status: ", string(msg.Data))
		},
	}, &rtc.ChannelCallback{
		Name: "cameraControl",
		OnOpenFunc: func(d *webrtc.DataChannel) {
			j, _ := json.Marshal(map[string]any{"type": "hello", "role": "viewer"})
			d.SendText(string(j))
		},
	}})

	return conn.Wait(ctx)
}

func runStatus(ctx context.Context, config *Config, id string, typ pairing.ConnectionType) error {
	base, err := apiBase(ctx, config, newDiscovery(config))
	if err != nil {
		return err
	}
	status, err := pairing.NewClient(base).GetConnectionStatus(ctx, id, typ)
	if err != nil {
		return err
	}
	j, _ := json.MarshalIndent(status, "", "  ")
	fmt.Println(string(j))
	return nil
}

func runDisconnect(ctx context.Context, config *Config, id string, typ pairing.ConnectionType) error {
	base, err := apiBase(ctx, config, newDiscovery(config))
	if err != nil {
		return err
	}
	return pairing.NewClient(base).DisconnectConnection(ctx, id, typ)
}

func main() {
	confPath := flag.String("conf", "config.toml", "conf path")
	cameraID := flag.String("camera", "", "camera id")
	connType := flag.String("type", "pin", "connection type (pin or qr)")
	pin := flag.String("pin", "", "pin code to redeem or to request")
	qr := flag.String("qr", "", "qr payload to redeem")
	id := flag.String("id", "", "connection id")
	flag.Parse()

	config := loadConfig(*confPath)
	if *cameraID != "" {
		config.CameraID = *cameraID
	}
	typ := pairing.ConnectionType(*connType)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch flag.Arg(0) {
	case "discover":
		err = runDiscover(ctx, config)
	case "pair":
		err = runPair(ctx, config, typ, *pin)
	case "connect":
		err = runConnect(ctx, config, *pin, *qr)
	case "status":
		err = runStatus(ctx, config, *id, typ)
	case "disconnect":
		err = runDisconnect(ctx, config, *id, typ)
	default:
		fmt.Fprintln(os.Stderr, "usage: camlink [flags] discover|pair|connect|status|disconnect")
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Println(err)
		os.Exit(1)
	}
}
