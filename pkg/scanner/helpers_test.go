package scanner

import (
	"io"
	"log/slog"
	"net"
)

func mustParseIP(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		panic("bad test IP literal: " + s)
	}
	return ip
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
