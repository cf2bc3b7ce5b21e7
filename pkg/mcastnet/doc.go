// Package mcastnet implements the UDP multicast transport dependency
// described in spec §6: joining the mDNS multicast groups on one or all
// network interfaces, broadcasting datagrams, and delivering inbound
// datagrams (tagged with source address and receiving interface) to a
// registered handler.
//
// The join/read/write shape is grounded in elum-utils-mdns's connection.go
// and client.go, adapted to the scanner's collaborator interface instead of
// that package's built-in resolver loop.
package mcastnet
