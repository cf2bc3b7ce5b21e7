package scanner

import (
	"testing"
	"time"

	"github.com/matterctl/mdnsscan/pkg/mdnswire"
	"github.com/matterctl/mdnsscan/pkg/monoclock"
)

const testOpName = "1122334455667788-AABBCCDDEEFF0011._matter._tcp.local"

func TestUpsertOperationalTXTCreatesThenZeroTTLDeletes(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	c := NewRecordCache(clock, true)

	txt, _ := ParseTXT([]string{"SII=500"}, false)
	dev := c.UpsertOperationalTXT(testOpName, 120, txt)
	if dev == nil {
		t.Fatal("upsert returned nil device")
	}
	if !c.HasOperational(testOpName) {
		t.Fatal("device not cached")
	}

	if got := c.UpsertOperationalTXT(testOpName, 0, txt); got != nil {
		t.Error("zero-TTL upsert returned non-nil device")
	}
	if c.HasOperational(testOpName) {
		t.Error("device still cached after zero-TTL TXT")
	}
}

func TestUpsertOperationalSRVAddsAddressesFilteredByOwner(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	c := NewRecordCache(clock, true)

	candidates := []mdnswire.Record{
		{Name: "host1.local", Type: mdnswire.TypeAAAA, TTL: 120, Value: mdnswire.Value{IP: mustParseIP("fe80::1")}},
		{Name: "otherhost.local", Type: mdnswire.TypeAAAA, TTL: 120, Value: mdnswire.Value{IP: mustParseIP("fe80::2")}},
		{Name: "host1.local", Type: mdnswire.TypeA, TTL: 120, Value: mdnswire.Value{IP: mustParseIP("192.168.1.5")}},
	}
	dev := c.UpsertOperationalSRV(testOpName, 120, "host1.local", 5540, candidates, "eth0")
	if dev.AddressCount() != 2 {
		t.Fatalf("AddressCount() = %d, want 2 (owner-filtered)", dev.AddressCount())
	}
	addrs := dev.Addresses()
	if addrs[0].IP != "192.168.1.5" && addrs[1].IP != "192.168.1.5" {
		t.Error("IPv4 address missing from result")
	}
}

func TestUpsertOperationalSRVRespectsEnableIPv4False(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	c := NewRecordCache(clock, false)

	candidates := []mdnswire.Record{
		{Name: "host1.local", Type: mdnswire.TypeA, TTL: 120, Value: mdnswire.Value{IP: mustParseIP("192.168.1.5")}},
	}
	dev := c.UpsertOperationalSRV(testOpName, 120, "host1.local", 5540, candidates, "eth0")
	if dev.AddressCount() != 0 {
		t.Fatalf("AddressCount() = %d, want 0 (IPv4 disabled)", dev.AddressCount())
	}
}

func TestUpsertCommissionableTXTDerivesSDAndSplitsVP(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	c := NewRecordCache(clock, true)

	txt, ok := ParseTXT([]string{"D=3840", "CM=2", "VP=4111+32768"}, true)
	if !ok {
		t.Fatal("ParseTXT failed")
	}
	dev := c.UpsertCommissionableTXT("ABCDEF01._matterc._udp.local", 120, txt)
	if dev.DeviceIdentifier != "ABCDEF01" {
		t.Errorf("DeviceIdentifier = %q, want ABCDEF01", dev.DeviceIdentifier)
	}
	if !dev.HasSD || dev.SD != uint8((3840>>8)&0x0F) {
		t.Errorf("SD = %d (has=%v), want %d", dev.SD, dev.HasSD, uint8((3840>>8)&0x0F))
	}
	if !dev.HasV || dev.V != 4111 || !dev.HasP || dev.P != 32768 {
		t.Errorf("V=%d P=%d, want 4111/32768", dev.V, dev.P)
	}
}

func TestExpireSweepRemovesTTLElapsedDevice(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	c := NewRecordCache(clock, true)

	candidates := []mdnswire.Record{
		{Name: "host1.local", Type: mdnswire.TypeAAAA, TTL: 5, Value: mdnswire.Value{IP: mustParseIP("fe80::1")}},
	}
	c.UpsertOperationalSRV(testOpName, 5, "host1.local", 5540, candidates, "eth0")

	clock.Advance(10 * time.Second)
	c.ExpireSweep()

	if c.HasOperational(testOpName) {
		t.Error("device still cached after its TTL elapsed")
	}
}

func TestExpireSweepRemovesDeviceWhoseAddressesAllExpired(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	c := NewRecordCache(clock, true)

	// Device TTL is long, but its only address has a short TTL.
	candidates := []mdnswire.Record{
		{Name: "host1.local", Type: mdnswire.TypeAAAA, TTL: 2, Value: mdnswire.Value{IP: mustParseIP("fe80::1")}},
	}
	c.UpsertOperationalSRV(testOpName, 3600, "host1.local", 5540, candidates, "eth0")

	clock.Advance(3 * time.Second)
	c.ExpireSweep()

	if c.HasOperational(testOpName) {
		t.Error("device with all addresses expired should be removed even if device TTL has not elapsed")
	}
}

func TestExpireSweepKeepsFreshZeroAddressDevice(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	c := NewRecordCache(clock, true)

	txt, _ := ParseTXT([]string{"SII=500"}, false)
	c.UpsertOperationalTXT(testOpName, 3600, txt)

	c.ExpireSweep()
	if !c.HasOperational(testOpName) {
		t.Error("freshly created zero-address device removed before its TTL elapsed")
	}
}

func TestQueryWithAddressesFiltersOutAddresslessMatches(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	c := NewRecordCache(clock, true)

	txt, ok := ParseTXT([]string{"D=3840", "CM=2"}, true)
	if !ok {
		t.Fatal("ParseTXT failed")
	}
	c.UpsertCommissionableTXT("ABCDEF01._matterc._udp.local", 120, txt)

	pred := ByLongDiscriminator(3840)
	if got := c.Query(pred); len(got) != 1 {
		t.Fatalf("Query() = %d matches, want 1", len(got))
	}
	if got := c.QueryWithAddresses(pred); len(got) != 0 {
		t.Fatalf("QueryWithAddresses() = %d matches, want 0 (no addresses yet)", len(got))
	}
}
