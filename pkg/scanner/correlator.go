package scanner

import (
	"log/slog"
	"strings"

	"github.com/matterctl/mdnsscan/pkg/mdnswire"
)

// MessageCorrelator implements spec §4.6: it classifies decoded responses,
// updates the cache, issues address follow-up queries, and wakes waiters.
// It owns no lock of its own.
type MessageCorrelator struct {
	cache      *RecordCache
	scheduler  *QueryScheduler
	waiters    *WaiterRegistry
	enableIPv4 bool
	logger     *slog.Logger
}

// NewMessageCorrelator wires a correlator to the scanner's cache,
// scheduler, and waiter registry.
func NewMessageCorrelator(cache *RecordCache, scheduler *QueryScheduler, waiters *WaiterRegistry, enableIPv4 bool, logger *slog.Logger) *MessageCorrelator {
	return &MessageCorrelator{cache: cache, scheduler: scheduler, waiters: waiters, enableIPv4: enableIPv4, logger: logger}
}

// Handle processes one decoded datagram (spec §4.6 steps 1-5). Non-response
// messages are ignored by the caller before Handle is invoked.
func (c *MessageCorrelator) Handle(msg *mdnswire.Message, ifaceName string) {
	answers := make([]mdnswire.Record, 0, len(msg.Answers)+len(msg.Additional))
	answers = append(answers, msg.Answers...)
	answers = append(answers, msg.Additional...)

	formerAnswers := c.scheduler.AllKnownAnswers()

	if c.handleOperational(answers, formerAnswers, ifaceName) {
		return
	}
	c.handleCommissionable(answers, formerAnswers, ifaceName)
}

func (c *MessageCorrelator) handleOperational(answers, formerAnswers []mdnswire.Record, ifaceName string) bool {
	names := map[string]bool{}
	for _, r := range answers {
		if (r.Type == mdnswire.TypeTXT || r.Type == mdnswire.TypeSRV) && strings.HasSuffix(r.Name, OperationalServiceQName) {
			names[r.Name] = true
		}
	}
	if len(names) == 0 {
		return false
	}

	existedBefore := make(map[string]bool, len(names))
	for name := range names {
		existedBefore[name] = c.cache.HasOperational(name)
	}

	for _, r := range answers {
		if r.Type != mdnswire.TypeTXT || !names[r.Name] {
			continue
		}
		if r.TTL == 0 {
			c.cache.DeleteOperational(r.Name)
			continue
		}
		txt, ok := ParseTXT(r.Value.Text, false)
		if !ok {
			continue
		}
		c.cache.UpsertOperationalTXT(r.Name, r.TTL, txt)
	}

	for name := range names {
		srv := findRecord(answers, name, mdnswire.TypeSRV)
		if srv == nil {
			srv = findRecord(formerAnswers, name, mdnswire.TypeSRV)
		}
		if srv == nil {
			continue
		}
		if srv.TTL == 0 {
			c.cache.DeleteOperational(name)
			continue
		}
		candidates := combineAddressCandidates(answers, formerAnswers)
		c.cache.UpsertOperationalSRV(name, srv.TTL, srv.Value.Target, srv.Value.Port, candidates, ifaceName)
	}

	for name := range names {
		dev := c.cache.GetOperational(name)
		if dev == nil {
			continue
		}
		if dev.AddressCount() == 0 {
			if c.waiters.Has(name) && dev.srvTarget != "" {
				c.installAddressFollowup(name, dev.srvTarget, answers)
			}
			continue
		}
		c.waiters.Finish(name, true, existedBefore[name])
	}
	return true
}

func (c *MessageCorrelator) handleCommissionable(answers, formerAnswers []mdnswire.Record, ifaceName string) {
	names := map[string]bool{}
	for _, r := range answers {
		if (r.Type == mdnswire.TypeTXT || r.Type == mdnswire.TypeSRV) && strings.HasSuffix(r.Name, CommissionableServiceQName) {
			names[r.Name] = true
		}
	}
	if len(names) == 0 {
		return
	}

	missing := map[string]bool{}

	for _, r := range answers {
		if r.Type != mdnswire.TypeTXT || !names[r.Name] {
			continue
		}
		if r.TTL == 0 {
			c.cache.DeleteCommissionable(r.Name)
			continue
		}
		txt, ok := ParseTXT(r.Value.Text, true)
		if !ok {
			// Open question (spec §9): a partial TXT that fails the D/CM
			// presence check leaves the last fully-valid record in place
			// until its TTL elapses, rather than tearing it down.
			continue
		}
		existedBefore := c.cache.HasCommissionable(r.Name)
		dev := c.cache.UpsertCommissionableTXT(r.Name, r.TTL, txt)
		if !existedBefore && dev.AddressCount() == 0 {
			missing[r.Name] = true
		}
	}

	for name := range names {
		srv := findRecord(answers, name, mdnswire.TypeSRV)
		if srv == nil {
			srv = findRecord(formerAnswers, name, mdnswire.TypeSRV)
		}
		if srv == nil {
			continue
		}
		if srv.TTL == 0 {
			c.cache.DeleteCommissionable(name)
			delete(missing, name)
			continue
		}
		candidates := combineAddressCandidates(answers, formerAnswers)
		dev, hadAddressesBefore := c.cache.UpsertCommissionableSRV(name, srv.TTL, srv.Value.Target, srv.Value.Port, candidates, ifaceName)
		if dev == nil {
			continue
		}
		if dev.AddressCount() == 0 {
			if qid, ok := c.findActiveQueryID(dev); ok {
				c.installAddressFollowup(qid, srv.Value.Target, answers)
			}
			continue
		}
		delete(missing, name)
		if qid, ok := c.findActiveQueryID(dev); ok {
			c.waiters.Finish(qid, true, hadAddressesBefore)
		}
	}

	for name := range missing {
		dev := c.cache.GetCommissionable(name)
		if dev == nil {
			continue
		}
		if qid, ok := c.findActiveQueryID(dev); ok {
			c.scheduler.SetQueryRecords(qid, []mdnswire.Question{
				{Name: name, Type: mdnswire.TypeANY, Class: mdnswire.ClassIN},
			}, nil)
		}
	}
}

// findActiveQueryID implements spec §4.6.5.
func (c *MessageCorrelator) findActiveQueryID(dev *CommissionableDevice) (string, bool) {
	candidates := []string{dev.DeviceIdentifier}
	if dev.HasD {
		candidates = append(candidates, longDiscriminatorKey(dev.D))
	}
	if dev.HasSD {
		candidates = append(candidates, shortDiscriminatorKey(dev.SD))
	}
	if dev.HasV && dev.HasP {
		candidates = append(candidates, vendorProductKey(dev.V, dev.P))
	}
	if dev.HasV {
		candidates = append(candidates, vendorKey(dev.V))
	}
	if dev.HasDT {
		candidates = append(candidates, deviceTypeKey(dev.DT))
	}
	if dev.HasP {
		candidates = append(candidates, productKey(dev.P))
	}
	candidates = append(candidates, AnyCommissioningModeKey)

	for _, cand := range candidates {
		if c.scheduler.HasActiveQuery(cand) {
			return cand, true
		}
	}
	return "", false
}

// installAddressFollowup issues AAAA (plus A when IPv4 is enabled) queries
// for target under queryId, carrying knownAnswers as suppression context
// (spec §4.6.1, testable property 3).
func (c *MessageCorrelator) installAddressFollowup(queryId, target string, knownAnswers []mdnswire.Record) {
	queries := []mdnswire.Question{{Name: target, Type: mdnswire.TypeAAAA, Class: mdnswire.ClassIN}}
	if c.enableIPv4 {
		queries = append(queries, mdnswire.Question{Name: target, Type: mdnswire.TypeA, Class: mdnswire.ClassIN})
	}
	c.scheduler.SetQueryRecords(queryId, queries, knownAnswers)
}

func findRecord(records []mdnswire.Record, name string, recordType mdnswire.RecordType) *mdnswire.Record {
	for i := range records {
		if records[i].Name == name && records[i].Type == recordType {
			return &records[i]
		}
	}
	return nil
}

func combineAddressCandidates(answers, formerAnswers []mdnswire.Record) []mdnswire.Record {
	out := make([]mdnswire.Record, 0, len(answers)+len(formerAnswers))
	out = append(out, answers...)
	out = append(out, formerAnswers...)
	return out
}
