package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"voice-session/pkg/system"
)

const (
	KeyLiveKitURL    = "LIVEKIT_URL"
	KeyTokenEndpoint = "TOKEN_ENDPOINT"
	KeyAuthEndpoint  = "AUTH_ENDPOINT"
	KeyStunServers   = "STUN_SERVERS"
	KeyLogLevel      = "LOG_LEVEL"
	KeyLogFormat     = "LOG_FORMAT"
	KeyMetricsAddr   = "METRICS_ADDR"
	KeyWebAddr       = "WEB_ADDR"
	KeyAgentBands    = "AGENT_BANDS"
	KeyMicBands      = "MIC_BANDS"
	KeyHotplugDir    = "HOTPLUG_DIR"
)

var ErrInvalidBands = errors.New("band count must be positive")

// Config is the runtime configuration of the voice client.
type Config struct {
	LiveKitURL    string
	TokenEndpoint string
	AuthEndpoint  string
	StunServers   []string
	LogLevel      string
	LogFormat     string
	MetricsAddr   string
	WebAddr       string
	AgentBands    int
	MicBands      int
	HotplugDir    string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyTokenEndpoint, "http://localhost:3000/api/token")
	v.SetDefault(KeyAuthEndpoint, "http://localhost:3000/api/auth")
	v.SetDefault(KeyStunServers, "stun:stun.l.google.com:19302")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyAgentBands, 5)
	v.SetDefault(KeyMicBands, 9)
	v.SetDefault(KeyHotplugDir, "/dev/snd")
}

// Load reads envFile (searched upwards from the working directory) and the
// process environment. Environment variables win over the file. A missing
// file is not an error.
func Load(envFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if envFile != "" {
		if dir, err := system.FindFileInProjectRoot(envFile); err == nil {
			v.SetConfigFile(filepath.Join(dir, envFile))
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read %s: %w", envFile, err)
			}
			log.Debug().Str("file", v.ConfigFileUsed()).Msg("Env file loaded")
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		LiveKitURL:    strings.TrimSpace(v.GetString(KeyLiveKitURL)),
		TokenEndpoint: v.GetString(KeyTokenEndpoint),
		AuthEndpoint:  v.GetString(KeyAuthEndpoint),
		StunServers:   splitList(v.GetString(KeyStunServers)),
		LogLevel:      v.GetString(KeyLogLevel),
		LogFormat:     v.GetString(KeyLogFormat),
		MetricsAddr:   v.GetString(KeyMetricsAddr),
		WebAddr:       v.GetString(KeyWebAddr),
		AgentBands:    v.GetInt(KeyAgentBands),
		MicBands:      v.GetInt(KeyMicBands),
		HotplugDir:    v.GetString(KeyHotplugDir),
	}
	if cfg.AgentBands <= 0 || cfg.MicBands <= 0 {
		return Config{}, fmt.Errorf("agent=%d mic=%d: %w", cfg.AgentBands, cfg.MicBands, ErrInvalidBands)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ICEServers converts the configured STUN urls for the connectivity probe.
func (c Config) ICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, len(c.StunServers))
	for i, server := range c.StunServers {
		servers[i] = webrtc.ICEServer{URLs: []string{server}}
	}
	return servers
}
