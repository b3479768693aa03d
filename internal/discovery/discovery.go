package discovery

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	ProbeTimeout   = 500 * time.Millisecond
	fallbackIP     = "192.168.1.100"
	defaultWorkers = 32
)

var commonSubnets = []string{"192.168.0.0/24", "192.168.1.0/24", "10.0.0.0/24"}

// localIPGuess returns the address of the interface used for outbound traffic. The UDP
// dial sends nothing.
var localIPGuess = func() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return fallbackIP
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP.To4() != nil {
		return addr.IP.String()
	}
	return fallbackIP
}

// Scanner looks for sprinkler controllers by requesting /bloom.js from every host on a few
// /24 networks.
type Scanner struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	workers    int
	probe      func(ctx context.Context, host string) bool
}

type Option func(*Scanner)

func WithWorkers(n int) Option {
	return func(s *Scanner) { s.workers = n }
}

func WithProbe(probe func(ctx context.Context, host string) bool) Option {
	return func(s *Scanner) { s.probe = probe }
}

// NewScanner limits probes to ratePerSec; zero or less disables the limit.
func NewScanner(ratePerSec int, opts ...Option) *Scanner {
	s := &Scanner{
		httpClient: &http.Client{Timeout: ProbeTimeout},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		workers:    defaultWorkers,
	}
	if ratePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	s.probe = s.isController
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover scans the local /24 and then the common home networks, stopping after the first
// network that yields any hits.
func (s *Scanner) Discover(ctx context.Context) ([]string, error) {
	start := time.Now()
	for _, subnet := range Subnets(localIPGuess()) {
		hits, err := s.scan(ctx, subnet)
		if err != nil {
			return nil, err
		}
		if len(hits) > 0 {
			log.Info().Str("subnet", subnet.String()).Strs("hits", hits).Dur("took", time.Since(start)).Msg("Controller discovery finished")
			return hits, nil
		}
		log.Debug().Str("subnet", subnet.String()).Msg("No controllers found on subnet")
	}
	log.Info().Dur("took", time.Since(start)).Msg("Controller discovery found nothing")
	return []string{}, nil
}

func (s *Scanner) scan(ctx context.Context, subnet netip.Prefix) ([]string, error) {
	var (
		mu   sync.Mutex
		hits []netip.Addr
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, addr := range Hosts(subnet) {
		if err := s.limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			if s.probe(gctx, addr.String()) {
				mu.Lock()
				hits = append(hits, addr)
				mu.Unlock()
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(hits, func(a, b netip.Addr) int { return a.Compare(b) })
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.String())
	}
	return out, nil
}

func (s *Scanner) isController(ctx context.Context, host string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+host+"/bloom.js", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Subnets returns the /24 around localIP followed by the common home networks, without
// duplicates.
func Subnets(localIP string) []netip.Prefix {
	var out []netip.Prefix
	if addr, err := netip.ParseAddr(localIP); err == nil && addr.Is4() {
		out = append(out, netip.PrefixFrom(addr, 24).Masked())
	}
	for _, n := range commonSubnets {
		p := netip.MustParsePrefix(n)
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// Hosts lists .1 through .254 of a /24.
func Hosts(subnet netip.Prefix) []netip.Addr {
	var out []netip.Addr
	for addr := subnet.Masked().Addr().Next(); subnet.Contains(addr); addr = addr.Next() {
		if last := addr.As4()[3]; last == 0 || last == 255 {
			continue
		}
		out = append(out, addr)
	}
	return out
}
