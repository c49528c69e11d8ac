package network

import (
	"fmt"
	"time"
)

// Config holds the network settings of the server.
type Config struct {
	// BindAddress is the interface to listen on. Empty listens on all.
	BindAddress string

	// Port is the TCP port. 0 picks a free port.
	Port int

	// AcceptTimeout bounds each accept so the server task notices a stop.
	AcceptTimeout time.Duration

	// MaxConnectionsPerAddress caps concurrent connections from one client
	// IP. 0 disables the cap.
	MaxConnectionsPerAddress int

	// IdleTimeout closes a connection that sends no frame for this long.
	IdleTimeout time.Duration

	// BodyTimeout is the longest a single read of a frame may wait for data.
	// Expiry answers BAD_FORMATTING and keeps the connection.
	BodyTimeout time.Duration

	// WriteTimeout bounds each response write.
	WriteTimeout time.Duration

	// MaxFrameSize is the largest frame served. Larger frames are skipped and
	// answered with TOO_LARGE.
	MaxFrameSize int64

	// RequestsPerSecond limits frames read per connection. 0 is unlimited.
	RequestsPerSecond uint

	// RequestBurst is the limiter bucket size. 0 means twice the rate.
	RequestBurst uint
}

const (
	DefaultPort                     = 8080
	DefaultAcceptTimeout            = 250 * time.Millisecond
	DefaultMaxConnectionsPerAddress = 16
	DefaultIdleTimeout              = 5 * time.Minute
	DefaultBodyTimeout              = 5 * time.Second
	DefaultWriteTimeout             = 30 * time.Second
	DefaultMaxFrameSize             = 16 << 20
)

func (c *Config) applyDefaults() {
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = DefaultAcceptTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.BodyTimeout <= 0 {
		c.BodyTimeout = DefaultBodyTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxConnectionsPerAddress < 0 {
		return fmt.Errorf("invalid max connections per address %d", c.MaxConnectionsPerAddress)
	}
	return nil
}
