// Package mdnswire defines the DNS message/record shapes the scanner core
// consumes (spec §6 "Codec dependency") and a concrete Codec backed by
// github.com/miekg/dns.
//
// The scanner never imports miekg/dns directly; it only sees the Message,
// Record, and Codec types here, so an alternate wire codec can be swapped in
// without touching pkg/scanner.
package mdnswire
