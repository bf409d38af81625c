package kademlia

import (
	"net"

	"github.com/kadnet/kadnode/internal/kaderrs"
	"github.com/kadnet/kadnode/internal/log"
)

// maxDatagramSize bounds inbound reads; larger datagrams are truncated
// and dropped with a warning (spec.md §4.3).
const maxDatagramSize = 64 * 1024

// Datagram is one inbound (addr, bytes) tuple (spec.md §4.3).
type Datagram struct {
	Addr PeerAddr
	Data []byte
}

// Transport is the sole I/O-performing component (spec.md §4.3): it binds
// a UDP endpoint, funnels inbound datagrams through Inbound, and sends
// outbound datagrams fire-and-forget.
type Transport struct {
	conn *net.UDPConn
	log  log.Logger

	inbound chan Datagram
	closed  chan struct{}
}

// Bind opens a UDP endpoint at localAddr, returning a *kaderrs.Error of
// Kind BindError on port conflict (spec.md §4.3, §7).
func Bind(localAddr string) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, kaderrs.Wrap(kaderrs.BindError, "resolve "+localAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, kaderrs.Wrap(kaderrs.BindError, "listen "+localAddr, err)
	}
	t := &Transport{
		conn:    conn,
		log:     log.New("component", "transport"),
		inbound: make(chan Datagram, 256),
		closed:  make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// LocalAddr returns the bound address.
func (t *Transport) LocalAddr() PeerAddr {
	a := t.conn.LocalAddr().(*net.UDPAddr)
	return PeerAddr{IP: a.IP.String(), Port: a.Port}
}

// Inbound yields decoded-address datagrams, FIFO per (local endpoint,
// remote peer) as guaranteed by the single reader goroutine below
// (spec.md §5 ordering guarantees).
func (t *Transport) Inbound() <-chan Datagram { return t.inbound }

func (t *Transport) readLoop() {
	buf := make([]byte, maxDatagramSize+1)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closed:
				close(t.inbound)
				return
			default:
			}
			t.log.Warn("read failed", "err", err)
			continue
		}
		if n > maxDatagramSize {
			t.log.Warn("datagram too large, dropped", "size", n, "from", addr)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		dg := Datagram{Addr: PeerAddr{IP: addr.IP.String(), Port: addr.Port}, Data: data}
		select {
		case t.inbound <- dg:
		case <-t.closed:
			return
		}
	}
}

// Send fires a datagram at addr. Failures are logged, never raised to
// callers — UDP is best-effort (spec.md §4.3, §7 SendError).
func (t *Transport) Send(addr PeerAddr, data []byte) {
	udpAddr, err := addr.UDPAddr()
	if err != nil {
		t.log.Warn("send: resolve failed", "addr", addr, "err", err)
		return
	}
	if _, err := t.conn.WriteToUDP(data, udpAddr); err != nil {
		t.log.Warn("send failed", "addr", addr, "err", err)
	}
}

// Close releases the local endpoint.
func (t *Transport) Close() error {
	close(t.closed)
	return t.conn.Close()
}
