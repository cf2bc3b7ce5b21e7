package mdnswire

import (
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// DNSCodec implements Codec on top of github.com/miekg/dns, following the
// same pack/unpack shape elum-utils-mdns/client.go uses for its own mDNS
// resolver (dns.Msg.Pack/Unpack against raw UDP payloads).
type DNSCodec struct{}

// NewDNSCodec returns the production Codec.
func NewDNSCodec() DNSCodec { return DNSCodec{} }

// Encode implements Codec.
func (DNSCodec) Encode(msg *Message) ([]byte, error) {
	m := toDNSMsg(msg)
	return m.Pack()
}

// EncodeRecord implements Codec. It packs rec as the sole answer of an
// otherwise-empty message and returns the bytes of that whole message, the
// 12-byte header included. The query scheduler uses this length as a known
// answer's contribution to a fragment's size (spec §4.5 step 3), so its
// estimate exceeds the record's real contribution by the header size.
func (DNSCodec) EncodeRecord(rec *Record) ([]byte, error) {
	rr, err := recordToRR(rec)
	if err != nil {
		return nil, err
	}
	m := new(dns.Msg)
	m.Answer = []dns.RR{rr}
	return m.Pack()
}

// Decode implements Codec. Malformed input yields (nil, nil): a
// ParseFailure (spec §7) is silently dropped, never surfaced as an error.
func (DNSCodec) Decode(data []byte) (*Message, error) {
	m := new(dns.Msg)
	if err := m.Unpack(data); err != nil {
		return nil, nil
	}
	return fromDNSMsg(m), nil
}

func toDNSMsg(msg *Message) *dns.Msg {
	m := new(dns.Msg)
	m.Id = msg.TransactionID
	m.Response = msg.Type == Response || msg.Type == TruncatedResponse
	m.Truncated = msg.Type == TruncatedQuery || msg.Type == TruncatedResponse
	m.RecursionDesired = false
	m.Opcode = dns.OpcodeQuery

	for _, q := range msg.Queries {
		m.Question = append(m.Question, dns.Question{
			Name:   dns.Fqdn(q.Name),
			Qtype:  toDNSType(q.Type),
			Qclass: uint16(ClassIN),
		})
	}
	for _, r := range msg.Answers {
		if rr, err := recordToRR(&r); err == nil {
			m.Answer = append(m.Answer, rr)
		}
	}
	for _, r := range msg.Authorities {
		if rr, err := recordToRR(&r); err == nil {
			m.Ns = append(m.Ns, rr)
		}
	}
	for _, r := range msg.Additional {
		if rr, err := recordToRR(&r); err == nil {
			m.Extra = append(m.Extra, rr)
		}
	}
	return m
}

func fromDNSMsg(m *dns.Msg) *Message {
	out := &Message{TransactionID: m.Id}
	switch {
	case m.Response && m.Truncated:
		out.Type = TruncatedResponse
	case m.Response:
		out.Type = Response
	case m.Truncated:
		out.Type = TruncatedQuery
	default:
		out.Type = Query
	}

	for _, q := range m.Question {
		rt, ok := fromDNSType(q.Qtype)
		if !ok {
			continue
		}
		out.Queries = append(out.Queries, Question{
			Name:  trimFqdn(q.Name),
			Type:  rt,
			Class: ClassIN,
		})
	}
	out.Answers = rrsToRecords(m.Answer)
	out.Authorities = rrsToRecords(m.Ns)
	out.Additional = rrsToRecords(m.Extra)
	return out
}

func rrsToRecords(rrs []dns.RR) []Record {
	var out []Record
	for _, rr := range rrs {
		if rec, ok := rrToRecord(rr); ok {
			out = append(out, rec)
		}
	}
	return out
}

func rrToRecord(rr dns.RR) (Record, bool) {
	hdr := rr.Header()
	base := Record{
		Name:  trimFqdn(hdr.Name),
		Class: ClassIN,
		TTL:   hdr.Ttl,
	}

	switch v := rr.(type) {
	case *dns.A:
		base.Type = TypeA
		base.Value.IP = v.A
	case *dns.AAAA:
		base.Type = TypeAAAA
		base.Value.IP = v.AAAA
	case *dns.PTR:
		base.Type = TypePTR
		base.Value.Target = trimFqdn(v.Ptr)
	case *dns.SRV:
		base.Type = TypeSRV
		base.Value.Target = trimFqdn(v.Target)
		base.Value.Port = v.Port
		base.Value.Priority = v.Priority
		base.Value.Weight = v.Weight
	case *dns.TXT:
		base.Type = TypeTXT
		base.Value.Text = v.Txt
	default:
		return Record{}, false
	}
	return base, true
}

func recordToRR(r *Record) (dns.RR, error) {
	hdr := dns.RR_Header{
		Name:   dns.Fqdn(r.Name),
		Class:  uint16(ClassIN),
		Ttl:    r.TTL,
		Rrtype: toDNSType(r.Type),
	}

	switch r.Type {
	case TypeA:
		ip4 := r.Value.IP.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("mdnswire: A record %q has no IPv4 address", r.Name)
		}
		return &dns.A{Hdr: hdr, A: ip4}, nil
	case TypeAAAA:
		return &dns.AAAA{Hdr: hdr, AAAA: net.IP(r.Value.IP)}, nil
	case TypePTR:
		return &dns.PTR{Hdr: hdr, Ptr: dns.Fqdn(r.Value.Target)}, nil
	case TypeSRV:
		return &dns.SRV{
			Hdr:      hdr,
			Priority: r.Value.Priority,
			Weight:   r.Value.Weight,
			Port:     r.Value.Port,
			Target:   dns.Fqdn(r.Value.Target),
		}, nil
	case TypeTXT:
		return &dns.TXT{Hdr: hdr, Txt: r.Value.Text}, nil
	default:
		return nil, fmt.Errorf("mdnswire: unsupported record type %v for %q", r.Type, r.Name)
	}
}

func toDNSType(t RecordType) uint16 {
	switch t {
	case TypeA:
		return dns.TypeA
	case TypeAAAA:
		return dns.TypeAAAA
	case TypePTR:
		return dns.TypePTR
	case TypeSRV:
		return dns.TypeSRV
	case TypeTXT:
		return dns.TypeTXT
	case TypeANY:
		return dns.TypeANY
	default:
		return dns.TypeNone
	}
}

func fromDNSType(qtype uint16) (RecordType, bool) {
	switch qtype {
	case dns.TypeA:
		return TypeA, true
	case dns.TypeAAAA:
		return TypeAAAA, true
	case dns.TypePTR:
		return TypePTR, true
	case dns.TypeSRV:
		return TypeSRV, true
	case dns.TypeTXT:
		return TypeTXT, true
	case dns.TypeANY:
		return TypeANY, true
	default:
		return 0, false
	}
}

func trimFqdn(name string) string {
	if len(name) > 0 && name[len(name)-1] == '.' {
		return name[:len(name)-1]
	}
	return name
}

var _ Codec = DNSCodec{}
