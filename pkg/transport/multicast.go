package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
)

// Multicast opens UDP multicast transports. Interface names the NIC to join
// and send on; empty means the system default.
type Multicast struct {
	Interface string
	// TTL defaults to 1, keeping traffic on the local link.
	TTL int
}

func (m Multicast) Open(ch Channel) (Transport, error) {
	var ifi *net.Interface
	if m.Interface != "" {
		var err error
		if ifi, err = net.InterfaceByName(m.Interface); err != nil {
			return nil, fmt.Errorf("interface %q: %w", m.Interface, err)
		}
	}
	dst, err := net.ResolveUDPAddr("udp4", ch.Send.String())
	if err != nil {
		return nil, fmt.Errorf("resolve send %s: %w", ch.Send, err)
	}
	if !dst.IP.IsMulticast() {
		return nil, fmt.Errorf("send address %s is not multicast", ch.Send)
	}

	c, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("open send socket: %w", err)
	}
	out := ipv4.NewPacketConn(c)
	ttl := m.TTL
	if ttl <= 0 {
		ttl = 1
	}
	if err := out.SetMulticastTTL(ttl); err != nil {
		c.Close()
		return nil, fmt.Errorf("set ttl: %w", err)
	}
	if err := out.SetMulticastLoopback(true); err != nil {
		c.Close()
		return nil, fmt.Errorf("set loopback: %w", err)
	}
	if ifi != nil {
		if err := out.SetMulticastInterface(ifi); err != nil {
			c.Close()
			return nil, fmt.Errorf("set interface: %w", err)
		}
	}
	return &multicastConn{ch: ch, ifi: ifi, dst: dst, out: out}, nil
}

type multicastConn struct {
	ch  Channel
	ifi *net.Interface
	dst *net.UDPAddr
	out *ipv4.PacketConn

	state  sync.Mutex // guards in and closed
	in     *ipv4.PacketConn
	closed bool

	rd         sync.Mutex // serializes readers
	pending    []byte
	hasPending bool // pending may be empty
	buf        [MaxDatagram]byte
}

func (c *multicastConn) EnableReceive() error {
	c.state.Lock()
	defer c.state.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.in != nil {
		return nil
	}
	group := net.ParseIP(c.ch.Listen.Group)
	if group == nil || !group.IsMulticast() {
		return fmt.Errorf("listen address %s is not multicast", c.ch.Listen)
	}
	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", c.ch.Listen.Port))
	if err != nil {
		return fmt.Errorf("bind %d: %w", c.ch.Listen.Port, err)
	}
	in := ipv4.NewPacketConn(pc)
	if err := in.JoinGroup(c.ifi, &net.UDPAddr{IP: group}); err != nil {
		pc.Close()
		return fmt.Errorf("join %s: %w", group, err)
	}
	c.in = in
	return nil
}

func (c *multicastConn) Send(b []byte) (int, error) {
	if len(b) > MaxDatagram {
		return 0, fmt.Errorf("datagram of %d bytes exceeds %d", len(b), MaxDatagram)
	}
	n, err := c.out.WriteTo(b, nil, c.dst)
	if err != nil && errors.Is(err, net.ErrClosed) {
		return n, ErrClosed
	}
	return n, err
}

func (c *multicastConn) HasData(wait time.Duration) (bool, error) {
	c.rd.Lock()
	defer c.rd.Unlock()
	in, err := c.reader()
	if err != nil {
		return false, err
	}
	if c.hasPending {
		return true, nil
	}
	if err := in.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return false, c.mapErr(err)
	}
	n, _, _, err := in.ReadFrom(c.buf[:])
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return false, nil
		}
		return false, c.mapErr(err)
	}
	c.pending = append(c.pending[:0], c.buf[:n]...)
	c.hasPending = true
	return true, nil
}

func (c *multicastConn) Receive(b []byte) (int, error) {
	c.rd.Lock()
	defer c.rd.Unlock()
	in, err := c.reader()
	if err != nil {
		return 0, err
	}
	if c.hasPending {
		c.hasPending = false
		return copy(b, c.pending), nil
	}
	if err := in.SetReadDeadline(time.Time{}); err != nil {
		return 0, c.mapErr(err)
	}
	n, _, _, err := in.ReadFrom(b)
	if err != nil {
		return 0, c.mapErr(err)
	}
	return n, nil
}

func (c *multicastConn) reader() (*ipv4.PacketConn, error) {
	c.state.Lock()
	defer c.state.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.in == nil {
		return nil, ErrNotReceiving
	}
	return c.in, nil
}

func (c *multicastConn) mapErr(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

// Close unblocks a pending HasData or Receive, which then report ErrClosed.
func (c *multicastConn) Close() error {
	c.state.Lock()
	defer c.state.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var errList []error
	if c.in != nil {
		_ = c.in.LeaveGroup(c.ifi, &net.UDPAddr{IP: net.ParseIP(c.ch.Listen.Group)})
		errList = append(errList, c.in.Close())
	}
	errList = append(errList, c.out.Close())
	return errors.Join(errList...)
}
