package ws

import (
	"time"

	"github.com/open-same/collab-hub/internal/config"
)

// Config tunes the hub and its connections.
type Config struct {
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	MaxMessageSize   int64
	SendBufferSize   int
	CommandQueueSize int
	// MaxRoomMembers caps room size; zero means unlimited.
	MaxRoomMembers int
	// MessageRate is the per-connection token rate for relayed messages
	// in messages per second; zero disables limiting.
	MessageRate  float64
	MessageBurst int
}

// DefaultConfig returns the standard keepalive and buffer settings.
func DefaultConfig() Config {
	return Config{
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		PingPeriod:       (60 * time.Second * 9) / 10,
		MaxMessageSize:   512,
		SendBufferSize:   256,
		CommandQueueSize: 256,
		MessageBurst:     20,
	}
}

// ConfigFrom converts the application hub settings, filling zero values
// with defaults.
func ConfigFrom(hc config.HubConfig) Config {
	return Config{
		WriteWait:        hc.WriteWait,
		PongWait:         hc.PongWait,
		PingPeriod:       hc.PingPeriod,
		MaxMessageSize:   hc.MaxMessageSize,
		SendBufferSize:   hc.SendBufferSize,
		CommandQueueSize: hc.CommandQueueSize,
		MaxRoomMembers:   hc.MaxRoomMembers,
		MessageRate:      hc.MessageRate,
		MessageBurst:     hc.MessageBurst,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.CommandQueueSize <= 0 {
		c.CommandQueueSize = d.CommandQueueSize
	}
	if c.MaxRoomMembers < 0 {
		c.MaxRoomMembers = 0
	}
	if c.MessageRate < 0 {
		c.MessageRate = 0
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = d.MessageBurst
	}
	return c
}
