package mcastnet

import (
	"fmt"
	"net"
	"runtime"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// UDPTransport is the production Transport, joining the mDNS multicast
// groups on UDP sockets via golang.org/x/net/ipv4 and ipv6 packet
// connections. Grounded in elum-utils-mdns/connection.go (join) and
// client.go (recv/sendQuery).
type UDPTransport struct {
	cfg    Config
	ifaces []net.Interface

	ipv4conn *ipv4.PacketConn
	ipv6conn *ipv6.PacketConn

	mu      sync.RWMutex
	handler MessageHandler

	closeOnce sync.Once
	done      chan struct{}
}

// NewUDPTransport creates the transport, joins the configured multicast
// groups on the configured interface(s), and starts the receive loops. The
// caller must call OnMessage before datagrams matter, and Close when done.
func NewUDPTransport(cfg Config) (*UDPTransport, error) {
	if cfg.ListeningPort == 0 {
		cfg.ListeningPort = DefaultPort
	}
	if cfg.BroadcastAddressIPv4 == nil {
		cfg.BroadcastAddressIPv4 = DefaultIPv4Group
	}
	if cfg.BroadcastAddressIPv6 == nil {
		cfg.BroadcastAddressIPv6 = DefaultIPv6Group
	}

	ifaces, err := selectInterfaces(cfg.NetInterface)
	if err != nil {
		return nil, err
	}

	t := &UDPTransport{cfg: cfg, ifaces: ifaces, done: make(chan struct{})}

	if cfg.EnableIPv4 {
		conn, err := joinIPv4(cfg, ifaces)
		if err != nil {
			return nil, fmt.Errorf("mcastnet: join ipv4 multicast: %w", err)
		}
		t.ipv4conn = conn
	}
	if cfg.EnableIPv6 {
		conn, err := joinIPv6(cfg, ifaces)
		if err != nil {
			if t.ipv4conn != nil {
				t.ipv4conn.Close()
			}
			return nil, fmt.Errorf("mcastnet: join ipv6 multicast: %w", err)
		}
		t.ipv6conn = conn
	}
	if t.ipv4conn == nil && t.ipv6conn == nil {
		return nil, fmt.Errorf("mcastnet: no address family enabled")
	}

	if t.ipv4conn != nil {
		go t.recvLoop4()
	}
	if t.ipv6conn != nil {
		go t.recvLoop6()
	}

	return t, nil
}

// OnMessage implements Transport.
func (t *UDPTransport) OnMessage(handler MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Send implements Transport.
func (t *UDPTransport) Send(data []byte) error {
	var lastErr error
	sent := false

	if t.ipv4conn != nil {
		addr := &net.UDPAddr{IP: t.cfg.BroadcastAddressIPv4, Port: t.cfg.ListeningPort}
		var wcm ipv4.ControlMessage
		for _, iface := range t.ifaces {
			wcm.IfIndex = iface.Index
			if runtime.GOOS != "darwin" && runtime.GOOS != "ios" && runtime.GOOS != "linux" {
				if err := t.ipv4conn.SetMulticastInterface(&iface); err != nil {
					lastErr = err
					continue
				}
			}
			if _, err := t.ipv4conn.WriteTo(data, &wcm, addr); err != nil {
				lastErr = err
				continue
			}
			sent = true
		}
	}
	if t.ipv6conn != nil {
		addr := &net.UDPAddr{IP: t.cfg.BroadcastAddressIPv6, Port: t.cfg.ListeningPort}
		var wcm ipv6.ControlMessage
		for _, iface := range t.ifaces {
			wcm.IfIndex = iface.Index
			if runtime.GOOS != "darwin" && runtime.GOOS != "ios" && runtime.GOOS != "linux" {
				if err := t.ipv6conn.SetMulticastInterface(&iface); err != nil {
					lastErr = err
					continue
				}
			}
			if _, err := t.ipv6conn.WriteTo(data, &wcm, addr); err != nil {
				lastErr = err
				continue
			}
			sent = true
		}
	}

	if !sent {
		if lastErr != nil {
			return fmt.Errorf("mcastnet: send failed on every interface: %w", lastErr)
		}
		return fmt.Errorf("mcastnet: send failed, no interfaces configured")
	}
	return nil
}

// Close implements Transport.
func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		if t.ipv4conn != nil {
			t.ipv4conn.Close()
		}
		if t.ipv6conn != nil {
			t.ipv6conn.Close()
		}
	})
	return nil
}

func (t *UDPTransport) recvLoop4() {
	buf := make([]byte, 65536)
	for {
		n, cm, src, err := t.ipv4conn.ReadFrom(buf)
		select {
		case <-t.done:
			return
		default:
		}
		if err != nil {
			return
		}
		t.deliver(buf[:n], src, cm.IfIndex)
	}
}

func (t *UDPTransport) recvLoop6() {
	buf := make([]byte, 65536)
	for {
		n, cm, src, err := t.ipv6conn.ReadFrom(buf)
		select {
		case <-t.done:
			return
		default:
		}
		if err != nil {
			return
		}
		t.deliver(buf[:n], src, cm.IfIndex)
	}
}

func (t *UDPTransport) deliver(data []byte, src net.Addr, ifIndex int) {
	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler == nil {
		return
	}

	remoteIP := addrIP(src)
	ifaceName := ""
	if iface, err := net.InterfaceByIndex(ifIndex); err == nil {
		ifaceName = iface.Name
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	handler(cp, remoteIP, ifaceName)
}

func addrIP(a net.Addr) net.IP {
	if udpAddr, ok := a.(*net.UDPAddr); ok {
		return udpAddr.IP
	}
	return nil
}

func joinIPv4(cfg Config, ifaces []net.Interface) (*ipv4.PacketConn, error) {
	bind := &net.UDPAddr{IP: net.IPv4zero, Port: cfg.ListeningPort}
	udpConn, err := net.ListenUDP("udp4", bind)
	if err != nil {
		return nil, err
	}

	pc := ipv4.NewPacketConn(udpConn)
	pc.SetControlMessage(ipv4.FlagInterface, true)
	_ = pc.SetMulticastTTL(255)
	_ = pc.SetMulticastLoopback(true)

	var joined int
	for _, iface := range ifaces {
		if err := pc.JoinGroup(&iface, &net.UDPAddr{IP: cfg.BroadcastAddressIPv4}); err == nil {
			joined++
		}
	}
	if joined == 0 {
		pc.Close()
		return nil, fmt.Errorf("failed to join ipv4 multicast group on any interface")
	}
	return pc, nil
}

func joinIPv6(cfg Config, ifaces []net.Interface) (*ipv6.PacketConn, error) {
	bind := &net.UDPAddr{IP: net.IPv6unspecified, Port: cfg.ListeningPort}
	udpConn, err := net.ListenUDP("udp6", bind)
	if err != nil {
		return nil, err
	}

	pc := ipv6.NewPacketConn(udpConn)
	pc.SetControlMessage(ipv6.FlagInterface, true)
	_ = pc.SetMulticastHopLimit(255)
	_ = pc.SetMulticastLoopback(true)

	var joined int
	for _, iface := range ifaces {
		if err := pc.JoinGroup(&iface, &net.UDPAddr{IP: cfg.BroadcastAddressIPv6}); err == nil {
			joined++
		}
	}
	if joined == 0 {
		pc.Close()
		return nil, fmt.Errorf("failed to join ipv6 multicast group on any interface")
	}
	return pc, nil
}

func selectInterfaces(name string) ([]net.Interface, error) {
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("mcastnet: interface %q: %w", name, err)
		}
		return []net.Interface{*iface}, nil
	}

	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []net.Interface
	for _, iface := range all {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		out = append(out, iface)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("mcastnet: no multicast-capable interfaces found")
	}
	return out, nil
}

var _ Transport = (*UDPTransport)(nil)
