package offer

import "time"

const (
	// DefaultRefreshInterval is how often posted offers are refreshed in
	// the offer book.
	DefaultRefreshInterval = time.Minute * 6

	// DefaultRepublishInterval is how often every posted offer is put
	// again in full.
	DefaultRepublishInterval = time.Minute * 30

	// DefaultSignTimeout bounds the wait for the arbitrator's signature.
	DefaultSignTimeout = time.Second * 30

	defaultMinBackoff = time.Second * 5
)

// Config holds the offer settings derived from the node config at
// startup.
type Config struct {
	// ArbitratorPeerID signs our offers. Makers cannot post without one.
	ArbitratorPeerID string

	// Arbitrator is set when this node signs offers for makers.
	Arbitrator bool

	RefreshInterval   time.Duration
	RepublishInterval time.Duration
	SignTimeout       time.Duration

	// MinBackoff is the first retry delay after a failed offer book
	// operation. It doubles up to RefreshInterval.
	MinBackoff time.Duration

	// ProtocolVersion is stamped on every offer we make.
	ProtocolVersion uint32
}

func (c *Config) refreshInterval() time.Duration {
	if c == nil || c.RefreshInterval == 0 {
		return DefaultRefreshInterval
	}
	return c.RefreshInterval
}

func (c *Config) republishInterval() time.Duration {
	if c == nil || c.RepublishInterval == 0 {
		return DefaultRepublishInterval
	}
	return c.RepublishInterval
}

func (c *Config) signTimeout() time.Duration {
	if c == nil || c.SignTimeout == 0 {
		return DefaultSignTimeout
	}
	return c.SignTimeout
}

func (c *Config) minBackoff() time.Duration {
	if c == nil || c.MinBackoff == 0 {
		return defaultMinBackoff
	}
	return c.MinBackoff
}

func (c *Config) protocolVersion() uint32 {
	if c == nil {
		return 0
	}
	return c.ProtocolVersion
}
