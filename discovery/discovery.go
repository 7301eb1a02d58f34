package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrNoServer is the aggregate failure for a scan: individual probe errors
// are swallowed and logged, callers only learn that nothing answered.
var ErrNoServer = errors.New("no backend server found")

// ServerInfo is the outcome of a successful probe.
type ServerInfo struct {
	IP           string        `json:"ip"`
	Port         int           `json:"port"`
	Available    bool          `json:"isAvailable"`
	ResponseTime time.Duration `json:"responseTime"`
}

type Options struct {
	Port         int
	ProbePath    string
	ProbeTimeout time.Duration

	// CandidateIPs are tried first, in order. ScanRanges are /24 prefixes
	// ("192.168.1") used for full scans and for FindServer's offset
	// fallback.
	CandidateIPs []string
	ScanRanges   []string
	ScanOffsets  []int

	MaxConcurrentProbes int64
}

func DefaultOptions() Options {
	return Options{
		Port:         4001,
		ProbePath:    "/api/health",
		ProbeTimeout: 2 * time.Second,
		CandidateIPs: []string{
			"192.168.1.1", "192.168.1.100", "192.168.1.101",
			"192.168.0.1", "192.168.0.100", "10.0.0.1",
		},
		ScanRanges:          []string{"192.168.1", "192.168.0"},
		ScanOffsets:         []int{2, 10, 20, 50, 150, 200, 254},
		MaxConcurrentProbes: 10,
	}
}

// Discovery locates a reachable backend on the local network and remembers
// the last-known-good address. Construct one and pass it down; there is no
// package-level instance.
type Discovery struct {
	opts Options
	hc   *http.Client

	// probe is swappable in tests.
	probe func(ctx context.Context, ip string) (time.Duration, error)

	mu        sync.Mutex
	currentIP string
	scanning  bool
	snapshot  []ServerInfo
}

func New(opts Options) *Discovery {
	def := DefaultOptions()
	if opts.Port == 0 {
		opts.Port = def.Port
	}
	if opts.ProbePath == "" {
		opts.ProbePath = def.ProbePath
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = def.ProbeTimeout
	}
	if len(opts.CandidateIPs) == 0 {
		opts.CandidateIPs = def.CandidateIPs
	}
	if len(opts.ScanRanges) == 0 {
		opts.ScanRanges = def.ScanRanges
	}
	if len(opts.ScanOffsets) == 0 {
		opts.ScanOffsets = def.ScanOffsets
	}
	if opts.MaxConcurrentProbes == 0 {
		opts.MaxConcurrentProbes = def.MaxConcurrentProbes
	}
	d := &Discovery{
		opts: opts,
		hc:   &http.Client{},
	}
	d.probe = d.httpProbe
	return d
}

// CurrentServerIP returns the last-known-good address, or "".
func (d *Discovery) CurrentServerIP() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentIP
}

// BaseURL returns the API base for the current server, or "" if none is
// known yet.
func (d *Discovery) BaseURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.currentIP == "" {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", d.currentIP, d.opts.Port)
}

func (d *Discovery) setCurrentIP(ip string) {
	d.mu.Lock()
	d.currentIP = ip
	d.mu.Unlock()
}

// httpProbe issues one health check. The request is cancelled when the
// probe timeout elapses, not merely abandoned. Any non-2xx answer counts
// as unavailable.
func (d *Discovery) httpProbe(ctx context.Context, ip string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.ProbeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d%s", ip, d.opts.Port, d.opts.ProbePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := d.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return 0, fmt.Errorf("probe %s: status %d", ip, res.StatusCode)
	}
	return time.Since(start), nil
}

// FindServer returns a reachable backend IP. The cached address is tried
// first; if it answers, the candidate list is not probed at all. Candidates
// are probed strictly sequentially to avoid flooding the network, then a
// few fixed host offsets in each scan range. Total failure returns
// ErrNoServer and leaves the cached address untouched.
func (d *Discovery) FindServer(ctx context.Context) (string, error) {
	if current := d.CurrentServerIP(); current != "" {
		if _, err := d.probe(ctx, current); err == nil {
			return current, nil
		}
		log.Printf("cached server %s no longer answers\n", current)
	}

	for _, ip := range d.opts.CandidateIPs {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if _, err := d.probe(ctx, ip); err == nil {
			log.Printf("found server at %s\n", ip)
			d.setCurrentIP(ip)
			return ip, nil
		}
	}

	for _, prefix := range d.opts.ScanRanges {
		for _, offset := range d.opts.ScanOffsets {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			ip := fmt.Sprintf("%s.%d", prefix, offset)
			if _, err := d.probe(ctx, ip); err == nil {
				log.Printf("found server at %s\n", ip)
				d.setCurrentIP(ip)
				return ip, nil
			}
		}
	}

	log.Printf("WARN: no server answered on port %d\n", d.opts.Port)
	return "", ErrNoServer
}

// DiscoverServers scans the configured /24 ranges with a bounded pool of
// concurrent probes. The scan stops as soon as any host answers; probes
// still in flight are cancelled. Results are sorted by ascending response
// time and the fastest host becomes the current server. A call made while
// a scan is already running returns the previous scan's snapshot
// immediately without starting a second scan.
func (d *Discovery) DiscoverServers(ctx context.Context) ([]ServerInfo, error) {
	d.mu.Lock()
	if d.scanning {
		snap := make([]ServerInfo, len(d.snapshot))
		copy(snap, d.snapshot)
		d.mu.Unlock()
		return snap, nil
	}
	d.scanning = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.scanning = false
		d.mu.Unlock()
	}()

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(d.opts.MaxConcurrentProbes)
	var wg sync.WaitGroup
	var resMu sync.Mutex
	var found []ServerInfo

	for _, prefix := range d.opts.ScanRanges {
		for host := 1; host <= 254; host++ {
			if scanCtx.Err() != nil {
				break
			}
			if err := sem.Acquire(scanCtx, 1); err != nil {
				break
			}
			ip := fmt.Sprintf("%s.%d", prefix, host)
			wg.Add(1)
			go func(ip string) {
				defer wg.Done()
				defer sem.Release(1)
				rt, err := d.probe(scanCtx, ip)
				if err != nil {
					return
				}
				resMu.Lock()
				found = append(found, ServerInfo{
					IP:           ip,
					Port:         d.opts.Port,
					Available:    true,
					ResponseTime: rt,
				})
				resMu.Unlock()
				cancel()
			}(ip)
		}
	}
	wg.Wait()

	sort.Slice(found, func(i, j int) bool {
		return found[i].ResponseTime < found[j].ResponseTime
	})

	d.mu.Lock()
	d.snapshot = found
	if len(found) > 0 {
		d.currentIP = found[0].IP
	}
	d.mu.Unlock()

	if len(found) == 0 {
		log.Printf("WARN: scan found no servers in %v\n", d.opts.ScanRanges)
	} else {
		log.Printf("scan found %d server(s), fastest %s (%v)\n",
			len(found), found[0].IP, found[0].ResponseTime)
	}
	return found, nil
}
