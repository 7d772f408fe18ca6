package config

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
)

func TestFrameDuration(t *testing.T) {
	assert.Equal(t, 20*time.Millisecond, NewOpusConfig().FrameDuration())
	assert.Equal(t, 20*time.Millisecond, NewPCMUConfig().FrameDuration())
	assert.Equal(t, 20*time.Millisecond, AudioConfig{}.FrameDuration())
}

func TestCodec(t *testing.T) {
	c := NewOpusConfig().Codec()
	assert.Equal(t, webrtc.MimeTypeOpus, c.MimeType)
	assert.Equal(t, uint32(48000), c.ClockRate)
	assert.Equal(t, uint16(1), c.Channels)
}
