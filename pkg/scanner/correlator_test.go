package scanner

import (
	"testing"

	"github.com/matterctl/mdnsscan/pkg/mcastnet"
	"github.com/matterctl/mdnsscan/pkg/mdnswire"
	"github.com/matterctl/mdnsscan/pkg/monoclock"
)

func newTestCorrelator(clock monoclock.Clock, transport mcastnet.Transport, enableIPv4 bool) (*MessageCorrelator, *RecordCache, *QueryScheduler, *WaiterRegistry) {
	cache := NewRecordCache(clock, enableIPv4)
	scheduler := newTestScheduler(clock, transport)
	waiters := NewWaiterRegistry(clock)
	corr := NewMessageCorrelator(cache, scheduler, waiters, enableIPv4, testLogger())
	return corr, cache, scheduler, waiters
}

func TestCorrelatorOperationalTXTThenSRVResolvesWaiter(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	transport := mcastnet.NewFakeTransport()
	corr, cache, scheduler, waiters := newTestCorrelator(clock, transport, true)

	scheduler.SetQueryRecords(testOpName, []mdnswire.Question{{Name: testOpName, Type: mdnswire.TypeSRV, Class: mdnswire.ClassIN}}, nil)
	w := waiters.Register(testOpName, 0, false, true)

	msg := &mdnswire.Message{
		Type: mdnswire.Response,
		Answers: []mdnswire.Record{
			{Name: testOpName, Type: mdnswire.TypeTXT, TTL: 120, Value: mdnswire.Value{Text: []string{"SII=500"}}},
			{Name: testOpName, Type: mdnswire.TypeSRV, TTL: 120, Value: mdnswire.Value{Target: "host1.local", Port: 5540}},
			{Name: "host1.local", Type: mdnswire.TypeAAAA, TTL: 120, Value: mdnswire.Value{IP: mustParseIP("fe80::1")}},
		},
	}
	corr.Handle(msg, "eth0")

	select {
	case <-w.Chan():
	default:
		t.Fatal("waiter not resolved after TXT+SRV+AAAA arrived together")
	}
	dev := cache.GetOperational(testOpName)
	if dev == nil || dev.AddressCount() != 1 {
		t.Fatalf("device missing or wrong address count: %+v", dev)
	}
	if dev.Addresses()[0].IP != "fe80::1%eth0" {
		t.Errorf("address = %q, want fe80::1%%eth0", dev.Addresses()[0].IP)
	}
}

func TestCorrelatorAddressFollowupWhenNoAddressYet(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	transport := mcastnet.NewFakeTransport()
	corr, cache, scheduler, waiters := newTestCorrelator(clock, transport, true)

	scheduler.SetQueryRecords(testOpName, []mdnswire.Question{{Name: testOpName, Type: mdnswire.TypeSRV, Class: mdnswire.ClassIN}}, nil)
	w := waiters.Register(testOpName, 0, false, true)
	sentBefore := transport.SentCount()

	msg := &mdnswire.Message{
		Type: mdnswire.Response,
		Answers: []mdnswire.Record{
			{Name: testOpName, Type: mdnswire.TypeSRV, TTL: 120, Value: mdnswire.Value{Target: "host1.local", Port: 5540}},
		},
	}
	corr.Handle(msg, "eth0")

	select {
	case <-w.Chan():
		t.Fatal("waiter resolved with no address present, want still pending")
	default:
	}
	if cache.GetOperational(testOpName) == nil {
		t.Fatal("device not created despite SRV arriving")
	}
	if !scheduler.HasActiveQuery(testOpName) {
		t.Fatal("active query removed unexpectedly")
	}
	if transport.SentCount() <= sentBefore {
		t.Error("no follow-up broadcast issued for address query")
	}
}

func TestCorrelatorZeroTTLTXTDeletesDevice(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	transport := mcastnet.NewFakeTransport()
	corr, cache, _, _ := newTestCorrelator(clock, transport, true)

	cache.UpsertOperationalTXT(testOpName, 120, TXTFields{})
	msg := &mdnswire.Message{
		Type: mdnswire.Response,
		Answers: []mdnswire.Record{
			{Name: testOpName, Type: mdnswire.TypeTXT, TTL: 0},
		},
	}
	corr.Handle(msg, "eth0")

	if cache.HasOperational(testOpName) {
		t.Error("device still cached after zero-TTL TXT goodbye")
	}
}

func TestCorrelatorCommissionableResolvesByLongDiscriminatorQueryID(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	transport := mcastnet.NewFakeTransport()
	corr, cache, scheduler, waiters := newTestCorrelator(clock, transport, true)

	qid := longDiscriminatorKey(3840)
	scheduler.SetQueryRecords(qid, []mdnswire.Question{
		{Name: CommissionableServiceQName, Type: mdnswire.TypePTR, Class: mdnswire.ClassIN},
	}, nil)
	w := waiters.Register(qid, 0, false, true)

	const instance = "ABCDEF01._matterc._udp.local"
	msg := &mdnswire.Message{
		Type: mdnswire.Response,
		Answers: []mdnswire.Record{
			{Name: instance, Type: mdnswire.TypeTXT, TTL: 120, Value: mdnswire.Value{Text: []string{"D=3840", "CM=2"}}},
			{Name: instance, Type: mdnswire.TypeSRV, TTL: 120, Value: mdnswire.Value{Target: "host2.local", Port: 5540}},
			{Name: "host2.local", Type: mdnswire.TypeAAAA, TTL: 120, Value: mdnswire.Value{IP: mustParseIP("fd12::1")}},
		},
	}
	corr.Handle(msg, "eth0")

	select {
	case <-w.Chan():
	default:
		t.Fatal("waiter keyed by long-discriminator not resolved")
	}
	dev := cache.GetCommissionable(instance)
	if dev == nil || !dev.HasSD || dev.SD != 0x0F {
		t.Fatalf("device missing or SD not derived: %+v", dev)
	}
}

func TestCorrelatorIgnoresUnrelatedResponseType(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	transport := mcastnet.NewFakeTransport()
	corr, cache, _, _ := newTestCorrelator(clock, transport, true)

	msg := &mdnswire.Message{
		Type: mdnswire.Response,
		Answers: []mdnswire.Record{
			{Name: "unrelated._airplay._tcp.local", Type: mdnswire.TypeTXT, TTL: 120, Value: mdnswire.Value{Text: []string{"foo=bar"}}},
		},
	}
	corr.Handle(msg, "eth0")

	if cache.HasOperational("unrelated._airplay._tcp.local") || len(cache.Query(AnyCommissionable())) != 0 {
		t.Error("unrelated service records leaked into the cache")
	}
}
