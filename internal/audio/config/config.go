package config

import (
	"time"

	"github.com/pion/webrtc/v4"
)

type AudioConfigType string

func (ac AudioConfigType) String() string {
	return string(ac)
}

const (
	SampleRateOpus   = 48000
	FrameSamplesOpus = 960 // 20 ms at 48kHz
	ChannelsOpus     = 1
	// largest opus frame (120 ms at 48kHz)
	MaxFrameSamplesOpus = 5760

	SampleRatePCM   = 8000
	FrameSamplesPCM = 160 // 20 ms at 8kHz
	ChannelsPCM     = 1

	JitterBufferSize = 2 // frames buffered before playback starts

	AudioCodecOpus AudioConfigType = "opus"
	AudioCodecPCMU AudioConfigType = "pcmu"
)

type AudioConfig struct {
	SampleRate   uint32
	FrameSamples int
	Channels     uint16
	BufferSize   int // channel buffer size in frames
	Type         AudioConfigType
	SDPFmtpLine  string
	PayloadType  uint8
	MimeType     string
	JitterMin    int
	JitterMax    int
}

// NewOpusConfig is the configuration used for the microphone and for
// agent audio.
func NewOpusConfig() AudioConfig {
	return AudioConfig{
		SampleRate:   SampleRateOpus,
		FrameSamples: FrameSamplesOpus,
		Channels:     ChannelsOpus,
		BufferSize:   300,
		Type:         AudioCodecOpus,
		SDPFmtpLine:  "minptime=10;useinbandfec=1;maxaveragebitrate=64000;stereo=0;sprop-stereo=0;cbr=0",
		PayloadType:  111,
		MimeType:     webrtc.MimeTypeOpus,
		JitterMin:    JitterBufferSize,
		JitterMax:    JitterBufferSize * 3,
	}
}

// NewPCMUConfig is only used to decode remote PCMU tracks.
func NewPCMUConfig() AudioConfig {
	return AudioConfig{
		SampleRate:   SampleRatePCM,
		FrameSamples: FrameSamplesPCM,
		Channels:     ChannelsPCM,
		BufferSize:   300,
		Type:         AudioCodecPCMU,
		PayloadType:  0,
		MimeType:     webrtc.MimeTypePCMU,
		JitterMin:    JitterBufferSize,
		JitterMax:    JitterBufferSize * 3,
	}
}

// FrameDuration is the playout time of one frame.
func (ac AudioConfig) FrameDuration() time.Duration {
	if ac.SampleRate == 0 {
		return 20 * time.Millisecond
	}
	return time.Duration(ac.FrameSamples) * time.Second / time.Duration(ac.SampleRate)
}

// Codec describes the config as a publishable RTP codec.
func (ac AudioConfig) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    ac.MimeType,
		ClockRate:   ac.SampleRate,
		Channels:    ac.Channels,
		SDPFmtpLine: ac.SDPFmtpLine,
	}
}
