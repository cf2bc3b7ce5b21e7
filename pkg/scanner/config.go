package scanner

import (
	"log/slog"
	"time"

	"github.com/matterctl/mdnsscan/pkg/mcastnet"
	"github.com/matterctl/mdnsscan/pkg/mdnswire"
	"github.com/matterctl/mdnsscan/pkg/monoclock"
)

// Config wires the scanner's three external collaborators (spec §6) plus
// the tunables spec §4.5/§4.3 name. A direct field struct, matching
// discovery.BrowserConfig rather than functional options.
type Config struct {
	// Transport, Codec, and Clock are required; New returns
	// ErrMissingCollaborator if any is nil.
	Transport mcastnet.Transport
	Codec     mdnswire.Codec
	Clock     monoclock.Clock

	// Logger receives structured discovery events. Nil defaults to
	// slog.Default().
	Logger *slog.Logger

	// EnableIPv4 controls whether A records are considered when
	// resolving addresses (spec §4.3). IPv6 is always considered.
	EnableIPv4 bool

	// MaxMessageSize bounds outbound datagrams (spec invariant 5).
	MaxMessageSize int

	// ExpirySweepInterval is the periodic cache-expiry tick (spec §4.3).
	ExpirySweepInterval time.Duration

	// InitialQueryInterval and MaxQueryInterval bound the query
	// scheduler's exponential back-off (spec §4.5).
	InitialQueryInterval time.Duration
	MaxQueryInterval     time.Duration

	// DefaultCommissionableTimeout is used by FindCommissionableDevices
	// callers that don't specify their own timeout (spec §4.7).
	DefaultCommissionableTimeout time.Duration
}

// DefaultConfig returns the spec-mandated tunables with EnableIPv4 true and
// no collaborators set; the caller must still supply Transport, Codec, and
// Clock before calling New.
func DefaultConfig() Config {
	return Config{
		EnableIPv4:                   true,
		MaxMessageSize:               1500,
		ExpirySweepInterval:          60 * time.Second,
		InitialQueryInterval:         1500 * time.Millisecond,
		MaxQueryInterval:             3600 * time.Second,
		DefaultCommissionableTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.ExpirySweepInterval == 0 {
		c.ExpirySweepInterval = d.ExpirySweepInterval
	}
	if c.InitialQueryInterval == 0 {
		c.InitialQueryInterval = d.InitialQueryInterval
	}
	if c.MaxQueryInterval == 0 {
		c.MaxQueryInterval = d.MaxQueryInterval
	}
	if c.DefaultCommissionableTimeout == 0 {
		c.DefaultCommissionableTimeout = d.DefaultCommissionableTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
