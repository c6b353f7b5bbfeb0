// Package udp carries frames over IPv4 multicast joined on a single named interface.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"ied-sentinel/internal/ied/transport"
	"ied-sentinel/internal/ied/transport/frame"
)

// readPoll bounds each blocking read so Subscribe notices cancellation.
const readPoll = 500 * time.Millisecond

// Transport is a multicast socket bound to one interface.
type Transport struct {
	conn  net.PacketConn
	pc    *ipv4.PacketConn
	group *net.UDPAddr
	ifi   *net.Interface
	log   logrus.FieldLogger

	closeOnce sync.Once
}

// ParseGroup parses "ip:port" and requires an IPv4 multicast address.
func ParseGroup(s string) (*net.UDPAddr, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return nil, fmt.Errorf("udp: group %q: %w", s, err)
	}
	ip := net.ParseIP(host).To4()
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("udp: group %q is not an IPv4 multicast address", s)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return nil, fmt.Errorf("udp: group %q: invalid port", s)
	}
	return &net.UDPAddr{IP: ip, Port: p}, nil
}

// Open joins group on the interface named ifaceName. Failure here is fatal for a device.
func Open(ifaceName, group string, log logrus.FieldLogger) (*Transport, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	gaddr, err := ParseGroup(group)
	if err != nil {
		return nil, err
	}
	ifi, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("udp: interface %q: %w", ifaceName, err)
	}
	conn, err := net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(gaddr.Port)))
	if err != nil {
		return nil, fmt.Errorf("udp: listen: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	setup := []func() error{
		func() error { return pc.JoinGroup(ifi, &net.UDPAddr{IP: gaddr.IP}) },
		func() error { return pc.SetMulticastInterface(ifi) },
		func() error { return pc.SetMulticastTTL(1) },
		func() error { return pc.SetMulticastLoopback(true) },
		func() error { return pc.SetControlMessage(ipv4.FlagDst, true) },
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("udp: configure %s on %s: %w", gaddr, ifaceName, err)
		}
	}
	log.WithFields(logrus.Fields{"iface": ifaceName, "group": gaddr.String()}).Info("udp: joined multicast group")
	return &Transport{conn: conn, pc: pc, group: gaddr, ifi: ifi, log: log}, nil
}

// Publish sends one datagram to the group.
func (t *Transport) Publish(ctx context.Context, f transport.Frame) error {
	b, err := frame.Encode(f)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = t.pc.SetWriteDeadline(dl)
	} else {
		_ = t.pc.SetWriteDeadline(time.Time{})
	}
	if _, err := t.pc.WriteTo(b, nil, t.group); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return transport.ErrClosed
		}
		return fmt.Errorf("udp: write: %w", err)
	}
	return nil
}

// Subscribe reads datagrams addressed to the group and hands decoded frames to h.
// Undecodable datagrams are logged and skipped.
func (t *Transport) Subscribe(ctx context.Context, h transport.Handler) error {
	buf := make([]byte, frame.MaxSize+1)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = t.pc.SetReadDeadline(time.Now().Add(readPoll))
		n, cm, _, err := t.pc.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("udp: read: %w", err)
		}
		if cm != nil && cm.Dst != nil && !cm.Dst.Equal(t.group.IP) {
			continue
		}
		f, err := frame.Decode(buf[:n])
		if err != nil {
			t.log.WithError(err).Debug("udp: dropping datagram")
			continue
		}
		h(ctx, f)
	}
}

// Close leaves the group and closes the socket.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		_ = t.pc.LeaveGroup(t.ifi, &net.UDPAddr{IP: t.group.IP})
		err = t.conn.Close()
	})
	return err
}
