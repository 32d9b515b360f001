// Package proxy implements spec.md §4.1 step 8 and §6: obtaining a raw
// byte stream to a destination host through an HTTP CONNECT tunnel or a
// SOCKS5 relay, with optional Basic/username-password authentication.
// Neither the teacher nor any other example repo in the corpus ships a
// CONNECT/SOCKS5 dialer (see DESIGN.md); this package is hand-rolled
// directly against net.Conn and the two IETF wire formats (RFC 7231
// §4.3.6, RFC 1928/1929).
package proxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/textproto"
	"strconv"

	"netstack/internal/nserr"
)

// Kind selects the proxy protocol.
type Kind int

const (
	KindHTTPConnect Kind = iota
	KindSOCKS5
)

// Config describes a single upstream proxy.
type Config struct {
	Kind     Kind
	Address  string // host:port of the proxy itself
	Username string // optional
	Password string

	// BypassHosts lists hosts that must be dialed directly instead of
	// through the proxy, per spec.md §4.1 step 8.
	BypassHosts []string
}

// Bypassed reports whether host should skip the proxy entirely.
func (c Config) Bypassed(host string) bool {
	for _, h := range c.BypassHosts {
		if h == host {
			return true
		}
	}
	return false
}

// Dialer opens a tunnel to a destination through a configured proxy.
type Dialer struct {
	cfg  Config
	dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// New returns a Dialer for cfg. dial defaults to the zero net.Dialer.
func New(cfg Config, dial func(ctx context.Context, network, address string) (net.Conn, error)) *Dialer {
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	return &Dialer{cfg: cfg, dial: dial}
}

// Dial establishes a byte-stream connection to destHost:destPort via
// the configured proxy, failing with nserr.KindProxy on any error —
// per spec.md §4.1 step 8, proxy failures never fall back silently to
// a direct connection.
func (d *Dialer) Dial(ctx context.Context, destHost string, destPort int) (net.Conn, error) {
	conn, err := d.dial(ctx, "tcp", d.cfg.Address)
	if err != nil {
		return nil, nserr.Proxy(err)
	}

	switch d.cfg.Kind {
	case KindHTTPConnect:
		if err := d.connectTunnel(conn, destHost, destPort); err != nil {
			conn.Close()
			return nil, err
		}
	case KindSOCKS5:
		if err := d.socks5Handshake(conn, destHost, destPort); err != nil {
			conn.Close()
			return nil, err
		}
	default:
		conn.Close()
		return nil, nserr.New(nserr.KindInvalidConfig, "unknown proxy kind")
	}
	return conn, nil
}

// connectTunnel issues an HTTP CONNECT request (RFC 7231 §4.3.6) with
// optional Basic auth (RFC 7617) and reads the 200 status line.
func (d *Dialer) connectTunnel(conn net.Conn, destHost string, destPort int) error {
	target := net.JoinHostPort(destHost, strconv.Itoa(destPort))
	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if d.cfg.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(d.cfg.Username + ":" + d.cfg.Password))
		req += "Proxy-Authorization: Basic " + cred + "\r\n"
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		return nserr.Proxy(err)
	}

	reader := bufio.NewReader(conn)
	tp := textproto.NewReader(reader)
	statusLine, err := tp.ReadLine()
	if err != nil {
		return nserr.Proxy(err)
	}
	if _, err := tp.ReadMIMEHeader(); err != nil {
		return nserr.Proxy(err)
	}
	var httpVersion string
	var statusCode int
	var reason string
	if _, err := fmt.Sscanf(statusLine, "%s %d %s", &httpVersion, &statusCode, &reason); err != nil || statusCode != 200 {
		return nserr.New(nserr.KindProxy, "CONNECT tunnel rejected: "+statusLine)
	}
	return nil
}

// SOCKS5 constants per RFC 1928/1929.
const (
	socks5Version    = 0x05
	socks5NoAuth     = 0x00
	socks5UserPass   = 0x02
	socks5NoAccept   = 0xFF
	socks5CmdConnect = 0x01
	socks5AddrDomain = 0x03
	socks5AddrIPv4   = 0x01
	socks5AddrIPv6   = 0x04
	socks5Reserved   = 0x00
	socks5Succeeded  = 0x00
)

func (d *Dialer) socks5Handshake(conn net.Conn, destHost string, destPort int) error {
	methods := []byte{socks5NoAuth}
	if d.cfg.Username != "" {
		methods = []byte{socks5UserPass}
	}
	greeting := append([]byte{socks5Version, byte(len(methods))}, methods...)
	if _, err := conn.Write(greeting); err != nil {
		return nserr.Proxy(err)
	}

	reply := make([]byte, 2)
	if _, err := readFull(conn, reply); err != nil {
		return nserr.Proxy(err)
	}
	if reply[0] != socks5Version || reply[1] == socks5NoAccept {
		return nserr.New(nserr.KindProxy, "SOCKS5 server rejected all authentication methods")
	}

	if reply[1] == socks5UserPass {
		if err := d.socks5Authenticate(conn); err != nil {
			return err
		}
	}

	req := []byte{socks5Version, socks5CmdConnect, socks5Reserved}
	req = append(req, socks5AddrDomain, byte(len(destHost)))
	req = append(req, []byte(destHost)...)
	req = append(req, byte(destPort>>8), byte(destPort))
	if _, err := conn.Write(req); err != nil {
		return nserr.Proxy(err)
	}

	header := make([]byte, 4)
	if _, err := readFull(conn, header); err != nil {
		return nserr.Proxy(err)
	}
	if header[1] != socks5Succeeded {
		return nserr.New(nserr.KindProxy, fmt.Sprintf("SOCKS5 CONNECT failed with reply code %d", header[1]))
	}

	// Drain the bound-address field so the tunnel starts clean.
	var addrLen int
	switch header[3] {
	case socks5AddrIPv4:
		addrLen = 4
	case socks5AddrIPv6:
		addrLen = 16
	case socks5AddrDomain:
		lenByte := make([]byte, 1)
		if _, err := readFull(conn, lenByte); err != nil {
			return nserr.Proxy(err)
		}
		addrLen = int(lenByte[0])
	default:
		return nserr.New(nserr.KindProxy, "SOCKS5 server returned an unknown address type")
	}
	if _, err := readFull(conn, make([]byte, addrLen+2)); err != nil { // +2 for the bound port
		return nserr.Proxy(err)
	}
	return nil
}

// socks5Authenticate implements the username/password subnegotiation
// of RFC 1929.
func (d *Dialer) socks5Authenticate(conn net.Conn) error {
	req := []byte{0x01, byte(len(d.cfg.Username))}
	req = append(req, []byte(d.cfg.Username)...)
	req = append(req, byte(len(d.cfg.Password)))
	req = append(req, []byte(d.cfg.Password)...)
	if _, err := conn.Write(req); err != nil {
		return nserr.Proxy(err)
	}
	reply := make([]byte, 2)
	if _, err := readFull(conn, reply); err != nil {
		return nserr.Proxy(err)
	}
	if reply[1] != 0x00 {
		return nserr.New(nserr.KindProxy, "SOCKS5 username/password authentication failed")
	}
	return nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
