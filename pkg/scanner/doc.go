// Package scanner implements the mDNS/DNS-SD discovery core for a Matter
// controller: an asynchronous, single-threaded-cooperative engine that
// locates operational (already-commissioned) and commissionable Matter
// nodes on the local network.
//
// # Query Lifecycle
//
// A caller asking for a device that isn't cached installs one or more PTR/
// SRV queries with the Query Scheduler, which broadcasts them on an
// exponential back-off (1.5s, 3s, 6s, ... capped at 3600s). A query stays
// active after the caller's wait ends, whether by answer, timeout, or
// cancellation; it is only removed by CancelOperationalDeviceDiscovery (for
// operational queries) or by Close. Inbound answers flow through
// the Message Correlator, which classifies them as operational or
// commissionable, updates the Record Cache, follows up with address
// queries when a device has no reachable endpoint yet, and wakes the
// Waiter Registry entry for anyone blocked on that device.
//
// # Collaborators
//
// The scanner never touches the network, the DNS wire format, or the
// system clock directly. It is constructed with a mcastnet.Transport, an
// mdnswire.Codec, and a monoclock.Clock (see those packages), matching the
// external-interface boundary this subsystem is specified against.
//
// # Concurrency
//
// All scanner state (cache, active queries, waiters) is mutated under a
// single mutex, standing in for the single-threaded event loop the design
// assumes: no sub-component (RecordCache, QueryScheduler, WaiterRegistry)
// takes its own lock, so a caller must never reach them except through the
// Scanner.
package scanner
