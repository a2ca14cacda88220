package trade

import "time"

const (
	// DefaultTimeout is how long a trade initiating step waits for the
	// peer's response.
	DefaultTimeout = time.Second * 60

	// DefaultMaxDeferral is how long an early message is held before it
	// is rejected.
	DefaultMaxDeferral = time.Minute * 10
)

// Config holds the trade engine settings. One value is built at startup
// and shared by every protocol.
type Config struct {
	// Timeout bounds every trade initiating step.
	Timeout time.Duration

	// MaxDeferral bounds how long a message that arrived before its
	// prerequisite state stays queued.
	MaxDeferral time.Duration

	// Arbitrator is set when this node accepts trade requests as an
	// arbitrator.
	Arbitrator bool

	// ProtocolVersion is stamped on every outgoing trade message.
	ProtocolVersion uint32
}

func (c *Config) timeout() time.Duration {
	if c == nil || c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c *Config) maxDeferral() time.Duration {
	if c == nil || c.MaxDeferral == 0 {
		return DefaultMaxDeferral
	}
	return c.MaxDeferral
}

func (c *Config) protocolVersion() uint32 {
	if c == nil {
		return 0
	}
	return c.ProtocolVersion
}
