package asio

import (
	"github.com/sagernet/asio/queue"
	"github.com/sagernet/asio/ratectl"
	"github.com/sagernet/asio/resolver"
	"github.com/sagernet/asio/zcomp"
)

// Config holds the tunables and collaborators shared by datagram and stream
// sockets.
type Config struct {
	// MaxDatagramSize bounds a single Send payload for datagram sockets;
	// sends above this return KindInvalid.
	MaxDatagramSize int

	ReadWatermarks  queue.Watermarks
	WriteWatermarks queue.Watermarks

	// KeepHalfOpen controls whether shutting down one direction implies
	// the other.
	KeepHalfOpen bool

	RateLimiterSend    ratectl.Limiter
	RateLimiterReceive ratectl.Limiter

	Resolver   resolver.Resolver
	Compressor zcomp.Compressor
	Manager    Manager
	Session    Session

	Proactor Proactor
}

// DefaultConfig returns a Config with conservative defaults: a 65507-byte
// max datagram size (the largest IPv4 UDP payload) and 0/64KiB read/write
// watermarks (i.e. the high-watermark event fires once more than 64KiB is
// queued and the low-watermark event once the queue has fully drained).
func DefaultConfig() *Config {
	return &Config{
		MaxDatagramSize: 65507,
		ReadWatermarks:  queue.Watermarks{Low: 0, High: 1 << 16},
		WriteWatermarks: queue.Watermarks{Low: 0, High: 1 << 16},
		Session:         NopSession{},
	}
}
