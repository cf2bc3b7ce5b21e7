package scanner

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/matterctl/mdnsscan/pkg/mcastnet"
	"github.com/matterctl/mdnsscan/pkg/mdnswire"
	"github.com/matterctl/mdnsscan/pkg/monoclock"
)

// Scanner is the public entry point composing the six components of spec
// §2 behind one mutex, standing in for the single-threaded cooperative
// event loop of spec §5.
type Scanner struct {
	mu sync.Mutex

	codec  mdnswire.Codec
	logger *slog.Logger

	clock      monoclock.Clock
	cache      *RecordCache
	scheduler  *QueryScheduler
	waiters    *WaiterRegistry
	correlator *MessageCorrelator

	transport   mcastnet.Transport
	expirySweep monoclock.PeriodicTimer
	closed      bool

	defaultCommissionableTimeout time.Duration
}

// New constructs a Scanner from cfg. cfg.Transport, cfg.Codec, and
// cfg.Clock are required.
func New(cfg Config) (*Scanner, error) {
	if cfg.Transport == nil || cfg.Codec == nil || cfg.Clock == nil {
		return nil, ErrMissingCollaborator
	}
	cfg = cfg.withDefaults()

	s := &Scanner{
		codec:                        cfg.Codec,
		logger:                       cfg.Logger,
		clock:                        cfg.Clock,
		transport:                    cfg.Transport,
		defaultCommissionableTimeout: cfg.DefaultCommissionableTimeout,
	}
	// Sub-components schedule their own timers (waiter timeouts, the
	// scheduler's backoff re-fire) but own no lock of their own; a bare
	// Clock would run those callbacks outside s.mu. guardedClock wraps
	// every callback with the same lock handleDatagram and runExpirySweep
	// take, so the single-mutex invariant holds for every entry point.
	guarded := &guardedClock{Clock: cfg.Clock, mu: &s.mu}
	s.cache = NewRecordCache(guarded, cfg.EnableIPv4)
	s.waiters = NewWaiterRegistry(guarded)
	s.scheduler = NewQueryScheduler(guarded, cfg.Codec, cfg.Transport, cfg.MaxMessageSize, cfg.InitialQueryInterval, cfg.MaxQueryInterval, s.logger)
	s.correlator = NewMessageCorrelator(s.cache, s.scheduler, s.waiters, cfg.EnableIPv4, s.logger)

	cfg.Transport.OnMessage(s.handleDatagram)
	s.expirySweep = cfg.Clock.NewPeriodic(cfg.ExpirySweepInterval, s.runExpirySweep)

	return s, nil
}

// NewDefault wires the real mcastnet.UDPTransport, mdnswire.DNSCodec, and
// monoclock.SystemClock, restricted to netInterface when non-empty (spec
// §12 "interface-scoped browsing").
func NewDefault(netInterface string, logger *slog.Logger) (*Scanner, error) {
	tcfg := mcastnet.DefaultConfig()
	tcfg.NetInterface = netInterface
	transport, err := mcastnet.NewUDPTransport(tcfg)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Transport = transport
	cfg.Codec = mdnswire.NewDNSCodec()
	cfg.Clock = monoclock.NewSystemClock()
	cfg.Logger = logger

	s, err := New(cfg)
	if err != nil {
		transport.Close()
		return nil, err
	}
	return s, nil
}

// guardedClock decorates a monoclock.Clock so every AfterFunc/NewPeriodic
// callback runs with mu held, letting cache.go/waiter.go/scheduler.go stay
// lock-free themselves while still only ever running under the Scanner's
// single mutex.
type guardedClock struct {
	monoclock.Clock
	mu *sync.Mutex
}

func (g *guardedClock) AfterFunc(d time.Duration, fn func()) monoclock.Timer {
	return g.Clock.AfterFunc(d, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		fn()
	})
}

func (g *guardedClock) NewPeriodic(d time.Duration, fn func()) monoclock.PeriodicTimer {
	return g.Clock.NewPeriodic(d, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		fn()
	})
}

func (s *Scanner) handleDatagram(data []byte, _ net.IP, ifaceName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	msg, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Warn("mdns decode error", "err", err)
		return
	}
	if msg == nil || !msg.IsResponse() {
		return
	}
	s.logger.Debug("mdns datagram received", "iface", ifaceName, "answers", len(msg.Answers)+len(msg.Additional))
	s.correlator.Handle(msg, ifaceName)
}

func (s *Scanner) runExpirySweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cache.ExpireSweep()
}

// FindOperationalOptions configures FindOperationalDevice.
type FindOperationalOptions struct {
	Timeout     time.Duration
	HasTimeout  bool
	IgnoreCache bool
}

// FindOperationalDevice implements spec §4.7 findOperationalDevice: cache
// hit returns immediately; miss installs an SRV query and waits. A nil
// result with a nil error means "not found by the time the wait ended".
func (s *Scanner) FindOperationalDevice(ctx context.Context, operationalID, nodeID []byte, opts FindOperationalOptions) (*OperationalDevice, error) {
	name := OperationalQName(operationalID, nodeID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrScannerClosed
	}
	if !opts.IgnoreCache {
		if dev := s.cache.GetOperational(name); dev != nil {
			clone := dev.Clone()
			s.mu.Unlock()
			return clone, nil
		}
	}
	waiter := s.waiters.Register(name, opts.Timeout, opts.HasTimeout, true)
	s.scheduler.SetQueryRecords(name, []mdnswire.Question{
		{Name: name, Type: mdnswire.TypeSRV, Class: mdnswire.ClassIN},
	}, nil)
	ch := waiter.Chan()
	s.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		s.mu.Lock()
		s.waiters.Finish(name, false, false)
		s.mu.Unlock()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dev := s.cache.GetOperational(name)
	if dev == nil {
		return nil, nil
	}
	return dev.Clone(), nil
}

// CancelOperationalDeviceDiscovery implements spec §4.7
// cancelOperationalDeviceDiscovery.
func (s *Scanner) CancelOperationalDeviceDiscovery(operationalID, nodeID []byte, resolve bool) {
	name := OperationalQName(operationalID, nodeID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiters.Finish(name, resolve, false)
	s.scheduler.RemoveQuery(name)
}

// FindCommissionableOptions configures FindCommissionableDevices.
type FindCommissionableOptions struct {
	// Timeout defaults to Config.DefaultCommissionableTimeout (spec §4.7
	// default 5s) when zero.
	Timeout     time.Duration
	IgnoreCache bool
}

// FindCommissionableDevices implements spec §4.7 findCommissionableDevices.
func (s *Scanner) FindCommissionableDevices(ctx context.Context, predicate CommissionablePredicate, opts FindCommissionableOptions) ([]*CommissionableDevice, error) {
	qid := predicate.QueryID()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrScannerClosed
	}
	if !opts.IgnoreCache {
		if matches := s.cache.QueryWithAddresses(predicate); len(matches) > 0 {
			clones := cloneCommissionable(matches)
			s.mu.Unlock()
			return clones, nil
		}
	}

	if opts.Timeout == 0 {
		opts.Timeout = s.defaultCommissionableTimeout
	}
	waiter := s.waiters.Register(qid, opts.Timeout, true, true)
	s.scheduler.SetQueryRecords(qid, commissionableQueries(predicate), nil)
	ch := waiter.Chan()
	s.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		s.mu.Lock()
		s.waiters.Finish(qid, false, false)
		s.mu.Unlock()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCommissionable(s.cache.QueryWithAddresses(predicate)), nil
}

// FindCommissionableDevicesContinuously implements spec §4.7
// findCommissionableDevicesContinuously: it installs queries once, then
// repeatedly emits newly-seen devices (deduped by DeviceIdentifier) until
// timeout elapses, cancel fires, or ctx is done. onDevice is called outside
// the scanner's lock.
//
// The remaining-time computation below is intentionally kept in one
// outer-scope variable and recomputed fresh each loop iteration — spec §9
// flags a known implementation pitfall where a re-declared inner variable
// of the same name shadows it; this loop avoids that by never re-declaring
// deadlineMs inside the loop body. Elapsed time is measured through the
// injected Clock, not time.Now, so tests can drive it with a FakeClock.
func (s *Scanner) FindCommissionableDevicesContinuously(ctx context.Context, predicate CommissionablePredicate, onDevice func(*CommissionableDevice), timeout time.Duration, hasTimeout bool, cancel <-chan struct{}) error {
	qid := predicate.QueryID()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrScannerClosed
	}
	s.scheduler.SetQueryRecords(qid, commissionableQueries(predicate), nil)
	var deadlineMs int64
	if hasTimeout {
		deadlineMs = s.clock.NowMs() + timeout.Milliseconds()
	}
	s.mu.Unlock()

	seen := map[string]bool{}

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrScannerClosed
		}
		for _, dev := range s.cache.QueryWithAddresses(predicate) {
			if seen[dev.DeviceIdentifier] {
				continue
			}
			seen[dev.DeviceIdentifier] = true
			clone := dev.Clone()
			s.mu.Unlock()
			onDevice(clone)
			s.mu.Lock()
		}

		var remaining time.Duration
		if hasTimeout {
			remaining = time.Duration(deadlineMs-s.clock.NowMs()) * time.Millisecond
			if remaining <= 0 {
				s.mu.Unlock()
				return nil
			}
		}

		waiter := s.waiters.Register(qid, remaining, hasTimeout, false)
		ch := waiter.Chan()
		s.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-cancel:
			s.mu.Lock()
			s.waiters.Finish(qid, true, false)
			s.mu.Unlock()
			return nil
		case <-ctx.Done():
			s.mu.Lock()
			s.waiters.Finish(qid, false, false)
			s.mu.Unlock()
			return ctx.Err()
		}
	}
}

// GetDiscoveredOperationalDevice implements spec §4.7's pure cache read.
func (s *Scanner) GetDiscoveredOperationalDevice(operationalID, nodeID []byte) (*OperationalDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrScannerClosed
	}
	name := OperationalQName(operationalID, nodeID)
	dev := s.cache.GetOperational(name)
	if dev == nil {
		s.logger.Debug("operational snapshot read", "name", name, "matches", 0)
		return nil, nil
	}
	s.logger.Debug("operational snapshot read", "name", name, "matches", 1)
	return dev.Clone(), nil
}

// GetDiscoveredCommissionableDevices implements spec §4.7's pure cache read.
func (s *Scanner) GetDiscoveredCommissionableDevices(predicate CommissionablePredicate) ([]*CommissionableDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrScannerClosed
	}
	matches := cloneCommissionable(s.cache.Query(predicate))
	s.logger.Debug("commissionable snapshot read", "predicate", predicate.QueryID(), "matches", len(matches))
	return matches, nil
}

// Close implements spec §4.7/§5 close(): stops all timers, closes the
// transport, and finishes every waiter (resolving those that had a
// timeout, abandoning the rest).
func (s *Scanner) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.expirySweep != nil {
		s.expirySweep.Stop()
	}
	// Removing the last active query stops the scheduler's re-broadcast timer.
	for _, id := range s.scheduler.sortedIDs() {
		s.scheduler.RemoveQuery(id)
	}
	s.waiters.FinishAll()
	s.mu.Unlock()

	return s.transport.Close()
}

func commissionableQueries(predicate CommissionablePredicate) []mdnswire.Question {
	queries := []mdnswire.Question{
		{Name: CommissionableServiceQName, Type: mdnswire.TypePTR, Class: mdnswire.ClassIN},
	}
	if sub := predicate.SubServiceQName(); sub != "" {
		queries = append(queries, mdnswire.Question{Name: sub, Type: mdnswire.TypePTR, Class: mdnswire.ClassIN})
	}
	return queries
}

func cloneCommissionable(devices []*CommissionableDevice) []*CommissionableDevice {
	out := make([]*CommissionableDevice, len(devices))
	for i, d := range devices {
		out[i] = d.Clone()
	}
	return out
}
