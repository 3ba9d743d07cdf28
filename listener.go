package httpengine

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Scheme is the protocol a Listener speaks.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// ListenerConfig describes one endpoint, per SPEC_FULL §6's listener
// configuration shape. Port "0" asks the OS to choose a free port; an
// empty or unparseable Port falls back to 8080.
type ListenerConfig struct {
	Scheme Scheme
	Host   string
	Port   string
	Prefix string

	CertFile string
	KeyFile  string
	// AutocertHosts, if non-empty, enables ACME (Let's Encrypt) TLS via
	// autocert instead of CertFile/KeyFile.
	AutocertHosts []string
	AutocertCache autocert.Cache

	RedirectPort int

	// PROXYEnabled accepts the PROXY protocol v1 text header on accepted
	// connections, per the teacher's listener.go.
	PROXYEnabled bool
	// PROXYRelayerIPWhitelist restricts which immediate peers are trusted
	// to supply a PROXY header. A connection from a peer whose address is
	// not in this list is served as a direct connection instead of having
	// its RemoteAddr substituted, since otherwise any client could spoof
	// its address by prefixing its own PROXY line. Required whenever
	// PROXYEnabled is set; an empty whitelist trusts no peer.
	PROXYRelayerIPWhitelist []string

	MaxBodyBytes int64
}

func (c ListenerConfig) resolvedPort() string {
	switch c.Port {
	case "0":
		return "0"
	case "":
		return "8080"
	default:
		if _, err := strconv.Atoi(c.Port); err != nil {
			return "8080"
		}
		return c.Port
	}
}

func (c ListenerConfig) address() string {
	return net.JoinHostPort(c.Host, c.resolvedPort())
}

// Listener owns one bound socket for the lifetime of the process: it is
// constructed at startup, bound once, and closed exactly once on the exit
// event, per SPEC_FULL §3.
type Listener struct {
	Config ListenerConfig

	netListener net.Listener
	server      httpServer

	closeOnce sync.Once
	exitToken string
}

// ListenerSet owns every configured Listener for an Engine and coordinates
// their startup and shutdown through the shared EventBus, per SPEC_FULL
// §4.2.
type ListenerSet struct {
	bus       *EventBus
	logger    *Logger
	listeners []*Listener
	mu        sync.Mutex
}

// NewListenerSet returns an empty ListenerSet bound to bus, logging fatal
// startup and lifecycle errors through logger.
func NewListenerSet(bus *EventBus, logger *Logger) *ListenerSet {
	return &ListenerSet{bus: bus, logger: logger}
}

// httpServer is the subset of *http.Server that ListenerSet.Open needs;
// expressed as an interface so tests can substitute a fake.
type httpServer interface {
	Serve(net.Listener) error
	Shutdown(context.Context) error
}

// Open binds a new Listener for cfg, wraps handler in TLS/h2c as cfg
// prescribes, and serves it on a background goroutine. Fatal startup
// errors (EACCES, EADDRINUSE) terminate the process with exit code 4 after
// logging a diagnostic, per SPEC_FULL §4.2; other listen errors are
// returned to the caller.
func (ls *ListenerSet) Open(cfg ListenerConfig, handler http.Handler) (*Listener, error) {
	tcpListener, err := net.Listen("tcp", cfg.address())
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EADDRINUSE) {
			ls.logger.Errorf("fatal listen error on %s: %v", cfg.address(), err)
			os.Exit(4)
		}
		return nil, err
	}

	var wrapped net.Listener = &keepAliveListener{TCPListener: tcpListener.(*net.TCPListener)}
	if cfg.PROXYEnabled {
		wrapped = &proxyListener{Listener: wrapped, whitelist: parseIPWhitelist(cfg.PROXYRelayerIPWhitelist)}
	}

	var srv httpServer
	switch cfg.Scheme {
	case SchemeHTTPS:
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		hs := &http.Server{Handler: handler, TLSConfig: tlsCfg}
		if err := http2.ConfigureServer(hs, &http2.Server{}); err != nil {
			return nil, err
		}
		wrapped = tls.NewListener(wrapped, tlsCfg)
		srv = hs
	default:
		srv = &http.Server{Handler: wrapH2C(handler)}
	}

	l := &Listener{Config: cfg, netListener: wrapped, server: srv}

	go func() {
		_ = srv.Serve(wrapped)
	}()

	l.exitToken = ls.bus.On(EventExit, func(...interface{}) error {
		return l.Close()
	})

	ls.mu.Lock()
	ls.listeners = append(ls.listeners, l)
	ls.mu.Unlock()

	return l, nil
}

// Close closes the listener's socket exactly once.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = l.server.Shutdown(ctx)
	})
	return err
}

// Addresses returns the bound address of every listener in the set,
// reflecting any OS-chosen port from Port "0".
func (ls *ListenerSet) Addresses() []string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	addrs := make([]string, len(ls.listeners))
	for i, l := range ls.listeners {
		addrs[i] = l.netListener.Addr().String()
	}
	return addrs
}

// buildTLSConfig returns a *tls.Config for cfg, preferring autocert when
// AutocertHosts is set and otherwise loading CertFile/KeyFile, with HTTP/2
// ALPN negotiation and HTTP/1.1 fallback, per SPEC_FULL §6.
func buildTLSConfig(cfg ListenerConfig) (*tls.Config, error) {
	if len(cfg.AutocertHosts) > 0 {
		mgr := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.AutocertHosts...),
			Cache:      cfg.AutocertCache,
		}
		tlsCfg := mgr.TLSConfig()
		tlsCfg.NextProtos = append([]string{"h2", "http/1.1"}, tlsCfg.NextProtos...)
		return tlsCfg, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
	}, nil
}

// wrapH2C adapts an HTTP/1-only http.Handler to also accept cleartext
// HTTP/2 (h2c), for listeners with Scheme http, per SPEC_FULL §6.
func wrapH2C(handler http.Handler) http.Handler {
	return h2c.NewHandler(handler, &http2.Server{})
}

// keepAliveListener enables TCP keepalive on every accepted connection,
// matching the teacher's listener.go.
type keepAliveListener struct {
	*net.TCPListener
}

func (l *keepAliveListener) Accept() (net.Conn, error) {
	tc, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

// proxyListener accepts the PROXY protocol v1 text header (terminated by
// CRLF) on each connection whose immediate peer address is in whitelist;
// v2's binary framing is not implemented, since no example in the pack
// exercises a v2 client.
type proxyListener struct {
	net.Listener
	whitelist []net.IP
}

func (l *proxyListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &proxyConn{Conn: c, br: bufio.NewReader(c), trusted: peerWhitelisted(c.RemoteAddr(), l.whitelist)}, nil
}

// proxyConn lazily parses a PROXY protocol v1 header from the wrapped
// connection's first read, substituting the original client address for
// RemoteAddr once parsed, per SPEC_FULL's Listener Set supplemental
// feature. A connection from a peer outside the configured whitelist is
// left untouched: its bytes are never interpreted as a PROXY header, since
// otherwise any direct client could spoof its own RemoteAddr.
type proxyConn struct {
	net.Conn
	br       *bufio.Reader
	trusted  bool
	once     sync.Once
	realAddr net.Addr
}

func (c *proxyConn) Read(p []byte) (int, error) {
	c.once.Do(c.readHeader)
	return c.br.Read(p)
}

func (c *proxyConn) readHeader() {
	if !c.trusted {
		return
	}
	line, err := c.br.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, "PROXY ") {
		// Not a PROXY header; push it back by re-wrapping a reader
		// that first replays line, then continues with whatever the
		// original reader still holds (buffered bytes, then c.Conn).
		c.br = bufio.NewReader(io.MultiReader(strings.NewReader(line), c.br))
		return
	}
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) >= 3 {
		if ip := net.ParseIP(fields[2]); ip != nil {
			port := "0"
			if len(fields) >= 5 {
				port = fields[4]
			}
			c.realAddr = &net.TCPAddr{IP: ip, Port: atoiOr(port, 0)}
		}
	}
}

// parseIPWhitelist converts the configured whitelist strings to net.IPs,
// silently dropping any entry that doesn't parse.
func parseIPWhitelist(whitelist []string) []net.IP {
	ips := make([]net.IP, 0, len(whitelist))
	for _, s := range whitelist {
		if ip := net.ParseIP(s); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}

// peerWhitelisted reports whether addr's host matches an entry in
// whitelist. A nil or empty whitelist trusts nobody, so PROXYEnabled alone
// never grants trust.
func peerWhitelisted(addr net.Addr, whitelist []net.IP) bool {
	if len(whitelist) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	peer := net.ParseIP(host)
	if peer == nil {
		return false
	}
	for _, ip := range whitelist {
		if ip.Equal(peer) {
			return true
		}
	}
	return false
}

func (c *proxyConn) RemoteAddr() net.Addr {
	if c.realAddr != nil {
		return c.realAddr
	}
	return c.Conn.RemoteAddr()
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
