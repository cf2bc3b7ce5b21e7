package scanner

import (
	"strconv"
	"strings"

	"github.com/matterctl/mdnsscan/pkg/mdnswire"
	"github.com/matterctl/mdnsscan/pkg/monoclock"
)

// RecordCache is the two-map TTL-indexed store of spec §4.3. It owns no
// lock of its own: every call must come from a goroutine already holding
// the Scanner's mutex.
type RecordCache struct {
	clock      monoclock.Clock
	enableIPv4 bool

	operational    map[string]*OperationalDevice
	commissionable map[string]*CommissionableDevice
}

// NewRecordCache constructs an empty cache.
func NewRecordCache(clock monoclock.Clock, enableIPv4 bool) *RecordCache {
	return &RecordCache{
		clock:          clock,
		enableIPv4:     enableIPv4,
		operational:    map[string]*OperationalDevice{},
		commissionable: map[string]*CommissionableDevice{},
	}
}

// GetOperational returns the cached device or nil.
func (c *RecordCache) GetOperational(name string) *OperationalDevice {
	return c.operational[name]
}

// HasOperational reports whether name is currently cached.
func (c *RecordCache) HasOperational(name string) bool {
	_, ok := c.operational[name]
	return ok
}

// DeleteOperational removes name unconditionally.
func (c *RecordCache) DeleteOperational(name string) {
	delete(c.operational, name)
}

// UpsertOperationalTXT implements spec §4.3 upsertOperationalTxt.
func (c *RecordCache) UpsertOperationalTXT(name string, ttl uint32, txt TXTFields) *OperationalDevice {
	if ttl == 0 {
		delete(c.operational, name)
		return nil
	}
	dev, ok := c.operational[name]
	if !ok {
		dev = newOperationalDevice(name)
		c.operational[name] = dev
	}
	dev.Discovery = txt
	dev.DiscoveredAtMs = c.clock.NowMs()
	dev.TTLMs = int64(ttl) * 1000
	return dev
}

// UpsertOperationalSRV implements spec §4.3 upsertOperationalSrv. candidates
// is the packet's answers ⧺ formerAnswers, already gathered by the
// correlator; this method filters by owner name itself.
func (c *RecordCache) UpsertOperationalSRV(name string, ttl uint32, target string, port uint16, candidates []mdnswire.Record, ifaceName string) *OperationalDevice {
	if ttl == 0 {
		delete(c.operational, name)
		return nil
	}
	dev, ok := c.operational[name]
	if !ok {
		dev = newOperationalDevice(name)
		c.operational[name] = dev
	}
	dev.srvTarget = target
	dev.DiscoveredAtMs = c.clock.NowMs()
	dev.TTLMs = int64(ttl) * 1000
	c.applyAddressRecords(dev.addresses, target, port, candidates, ifaceName)
	return dev
}

// UpsertCommissionableTXT implements spec §4.3/§4.6.2's TXT half, including
// SD derivation and VP splitting.
func (c *RecordCache) UpsertCommissionableTXT(serviceInstanceName string, ttl uint32, txt TXTFields) *CommissionableDevice {
	if ttl == 0 {
		delete(c.commissionable, serviceInstanceName)
		return nil
	}
	dev, ok := c.commissionable[serviceInstanceName]
	if !ok {
		dev = newCommissionableDevice(leadingLabel(serviceInstanceName))
		c.commissionable[serviceInstanceName] = dev
	}
	dev.Discovery = txt
	dev.D, dev.HasD = txt.D, txt.HasD
	dev.CM = txt.CM
	dev.DT, dev.HasDT = txt.DT, txt.HasDT
	dev.VP = txt.VP
	if txt.HasD {
		dev.SD = uint8((txt.D >> 8) & 0x0F)
		dev.HasSD = true
	}
	if v, p, ok := splitVP(txt.VP); ok {
		dev.V, dev.HasV = v, true
		dev.P, dev.HasP = p, true
	}
	dev.DiscoveredAtMs = c.clock.NowMs()
	dev.TTLMs = int64(ttl) * 1000
	return dev
}

// UpsertCommissionableSRV implements spec §4.3/§4.6.2's SRV half.
// hadAddressesBefore reports whether dev already had ≥1 address prior to
// this call, needed by the correlator to compute isUpdatedRecord.
func (c *RecordCache) UpsertCommissionableSRV(serviceInstanceName string, ttl uint32, target string, port uint16, candidates []mdnswire.Record, ifaceName string) (dev *CommissionableDevice, hadAddressesBefore bool) {
	if ttl == 0 {
		delete(c.commissionable, serviceInstanceName)
		return nil, false
	}
	dev, ok := c.commissionable[serviceInstanceName]
	if !ok {
		dev = newCommissionableDevice(leadingLabel(serviceInstanceName))
		c.commissionable[serviceInstanceName] = dev
	}
	hadAddressesBefore = dev.AddressCount() > 0
	dev.srvTarget = target
	dev.DiscoveredAtMs = c.clock.NowMs()
	dev.TTLMs = int64(ttl) * 1000
	c.applyAddressRecords(dev.addresses, target, port, candidates, ifaceName)
	return dev, hadAddressesBefore
}

// GetCommissionable returns the cached device or nil.
func (c *RecordCache) GetCommissionable(serviceInstanceName string) *CommissionableDevice {
	return c.commissionable[serviceInstanceName]
}

// HasCommissionable reports whether serviceInstanceName is currently cached.
func (c *RecordCache) HasCommissionable(serviceInstanceName string) bool {
	_, ok := c.commissionable[serviceInstanceName]
	return ok
}

// DeleteCommissionable removes serviceInstanceName unconditionally.
func (c *RecordCache) DeleteCommissionable(serviceInstanceName string) {
	delete(c.commissionable, serviceInstanceName)
}

// Query returns every cached commissionable device matching predicate,
// regardless of address count (spec §4.3 query(predicate)).
func (c *RecordCache) Query(predicate CommissionablePredicate) []*CommissionableDevice {
	var out []*CommissionableDevice
	for _, dev := range c.commissionable {
		if predicate.match(dev) {
			out = append(out, dev)
		}
	}
	return out
}

// QueryWithAddresses is Query filtered to devices with ≥1 live address, the
// form the public API treats as a cache hit (spec §4.7).
func (c *RecordCache) QueryWithAddresses(predicate CommissionablePredicate) []*CommissionableDevice {
	var out []*CommissionableDevice
	for _, dev := range c.Query(predicate) {
		if dev.AddressCount() > 0 {
			out = append(out, dev)
		}
	}
	return out
}

// ExpireSweep implements spec §4.3 expireSweep(now): per-address expiry
// first, then device removal for TTL-elapsed entries and for entries whose
// addresses were all pruned by this sweep. A device that has no address yet
// (its address query is still in flight) stays until its own TTL elapses.
func (c *RecordCache) ExpireSweep() {
	now := c.clock.NowMs()
	for name, dev := range c.operational {
		hadAddresses := len(dev.addresses) > 0
		pruneAddresses(dev.addresses, now)
		if (hadAddresses && len(dev.addresses) == 0) || dev.DiscoveredAtMs+dev.TTLMs <= now {
			delete(c.operational, name)
		}
	}
	for name, dev := range c.commissionable {
		hadAddresses := len(dev.addresses) > 0
		pruneAddresses(dev.addresses, now)
		if (hadAddresses && len(dev.addresses) == 0) || dev.DiscoveredAtMs+dev.TTLMs <= now {
			delete(c.commissionable, name)
		}
	}
}

func pruneAddresses(addrs map[string]addressEntry, now int64) {
	for ip, entry := range addrs {
		if entry.DiscoveredAtMs+entry.TTLMs <= now {
			delete(addrs, ip)
		}
	}
}

// applyAddressRecords adds/refreshes/removes addresses in addrs from the
// A/AAAA records in candidates whose owner equals target, honoring
// enableIPv4 and zero-TTL deletion (spec §4.3 upsertOperationalSrv).
func (c *RecordCache) applyAddressRecords(addrs map[string]addressEntry, target string, port uint16, candidates []mdnswire.Record, ifaceName string) {
	now := c.clock.NowMs()
	seen := map[string]bool{}
	for _, rec := range candidates {
		if rec.Name != target {
			continue
		}
		if rec.Type != mdnswire.TypeAAAA && rec.Type != mdnswire.TypeA {
			continue
		}
		if rec.Type == mdnswire.TypeA && !c.enableIPv4 {
			continue
		}
		if rec.Value.IP == nil {
			continue
		}
		literal := addressLiteral(rec.Value.IP, ifaceName)
		if seen[literal] {
			continue
		}
		seen[literal] = true
		if rec.TTL == 0 {
			delete(addrs, literal)
			continue
		}
		addrs[literal] = addressEntry{
			IP:             literal,
			Port:           port,
			DiscoveredAtMs: now,
			TTLMs:          int64(rec.TTL) * 1000,
		}
	}
}

func leadingLabel(fqdn string) string {
	if i := strings.IndexByte(fqdn, '.'); i >= 0 {
		return fqdn[:i]
	}
	return fqdn
}

// splitVP splits a raw "V+P" TXT value into its vendor and product ids.
func splitVP(vp string) (vendorID, productID uint16, ok bool) {
	parts := strings.SplitN(vp, "+", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	v, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return 0, 0, false
	}
	p, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return 0, 0, false
	}
	return uint16(v), uint16(p), true
}
