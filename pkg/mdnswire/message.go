package mdnswire

import "net"

// RecordType identifies a DNS resource record type relevant to mDNS-SD.
type RecordType uint8

// Record types used by the scanner. ANY is a query-only wildcard type used
// when following up on a newly seen commissionable instance that still has
// no address after a packet is processed (spec §4.6.2).
const (
	TypeA RecordType = iota
	TypeAAAA
	TypePTR
	TypeSRV
	TypeTXT
	TypeANY
)

// String returns the conventional DNS mnemonic.
func (t RecordType) String() string {
	switch t {
	case TypeA:
		return "A"
	case TypeAAAA:
		return "AAAA"
	case TypePTR:
		return "PTR"
	case TypeSRV:
		return "SRV"
	case TypeTXT:
		return "TXT"
	case TypeANY:
		return "ANY"
	default:
		return "UNKNOWN"
	}
}

// RecordClass is always IN for mDNS-SD traffic; kept as a type for clarity
// at call sites and to match the wire dependency's stated surface (spec §6).
type RecordClass uint8

// ClassIN is the only class this scanner speaks.
const ClassIN RecordClass = 1

// MessageType distinguishes the four mDNS message shapes the scheduler and
// correlator care about (spec §4.5 step 3-4, §4.6 step 1).
type MessageType uint8

const (
	Query MessageType = iota
	TruncatedQuery
	Response
	TruncatedResponse
)

// Question is one entry of a Message's query section.
type Question struct {
	Name  string
	Type  RecordType
	Class RecordClass
}

// Value carries the type-specific payload of a Record. Exactly the fields
// relevant to Type are populated; others are zero.
type Value struct {
	// IP holds the address for A/AAAA records.
	IP net.IP

	// Target holds the target host for SRV, or the referenced instance
	// name for PTR.
	Target string

	// Port holds the service port for SRV records.
	Port uint16

	// Priority and Weight are SRV record fields, carried for completeness
	// though the scanner does not act on them.
	Priority uint16
	Weight   uint16

	// Text holds the raw "key=value" (or bare key) strings of a TXT
	// record, in wire order, before §4.2 parsing.
	Text []string
}

// Record is a decoded (or to-be-encoded) resource record.
type Record struct {
	Name  string
	Type  RecordType
	Class RecordClass
	// TTL is in seconds, as carried on the wire (spec §6).
	TTL   uint32
	Value Value
}

// Message is a decoded (or to-be-assembled) mDNS message (spec §6).
type Message struct {
	Type          MessageType
	TransactionID uint16
	Queries       []Question
	Answers       []Record
	Authorities   []Record
	Additional    []Record
}

// IsResponse reports whether m is a Response or TruncatedResponse, the only
// message types the correlator acts on (spec §4.6 step 1).
func (m *Message) IsResponse() bool {
	return m.Type == Response || m.Type == TruncatedResponse
}
