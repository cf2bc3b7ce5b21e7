package mcastnet

import "net"

// DefaultPort is the mDNS multicast port (RFC 6762).
const DefaultPort = 5353

// DefaultIPv4Group and DefaultIPv6Group are the standard mDNS multicast
// group addresses (spec §6).
var (
	DefaultIPv4Group = net.IPv4(224, 0, 0, 251)
	DefaultIPv6Group = net.ParseIP("ff02::fb")
)

// MessageHandler receives one inbound datagram along with the remote
// address it came from and the name of the interface it was received on.
type MessageHandler func(data []byte, remoteIP net.IP, ifaceName string)

// Config configures a Transport (spec §6).
type Config struct {
	// NetInterface restricts the transport to a single named interface.
	// Empty means all multicast-capable interfaces.
	NetInterface string

	// BroadcastAddressIPv4 and BroadcastAddressIPv6 override the standard
	// multicast group addresses. Zero value uses the RFC 6762 defaults.
	BroadcastAddressIPv4 net.IP
	BroadcastAddressIPv6 net.IP

	// ListeningPort overrides the standard mDNS port. Zero uses DefaultPort.
	ListeningPort int

	// EnableIPv4 and EnableIPv6 select which address families to join.
	// Both default to true via DefaultConfig.
	EnableIPv4 bool
	EnableIPv6 bool
}

// DefaultConfig returns the standard mDNS transport configuration: both
// address families, the RFC 6762 groups, port 5353, all interfaces.
func DefaultConfig() Config {
	return Config{
		BroadcastAddressIPv4: DefaultIPv4Group,
		BroadcastAddressIPv6: DefaultIPv6Group,
		ListeningPort:        DefaultPort,
		EnableIPv4:           true,
		EnableIPv6:           true,
	}
}

// Transport is the UDP multicast dependency described in spec §6.
type Transport interface {
	// OnMessage registers the handler invoked for every inbound datagram.
	// Only one handler may be registered; a later call replaces the
	// earlier one.
	OnMessage(handler MessageHandler)

	// Send broadcasts data to the joined multicast groups on every joined
	// interface.
	Send(data []byte) error

	// Close leaves the multicast groups and releases the sockets.
	Close() error
}
