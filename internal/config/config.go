package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode              string                         `mapstructure:"mode"`
	LogLevel          string                         `mapstructure:"log_level"`
	DisplayName       string                         `mapstructure:"display_name"`
	Picture           string                         `mapstructure:"picture"`
	Signaling         Signaling                      `mapstructure:"signaling"`
	Media             Media                          `mapstructure:"media"`
	SimulcastProfiles map[string][]SimulcastEncoding `mapstructure:"simulcast_profiles"`
	NetworkPriorities NetworkPriorities              `mapstructure:"network_priorities"`
	Spotlight         Spotlight                      `mapstructure:"spotlight"`
	Audio             Audio                          `mapstructure:"audio"`
	Video             Video                          `mapstructure:"video"`
	Screen            Video                          `mapstructure:"screen"`
	HTTP              HTTP                           `mapstructure:"http"`
}

type Signaling struct {
	URL               string        `mapstructure:"url"`
	RoomID            string        `mapstructure:"room_id"`
	PeerID            string        `mapstructure:"peer_id"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestRetries    int           `mapstructure:"request_retries"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	QueueSize         int           `mapstructure:"queue_size"`
}

type Media struct {
	Produce               bool          `mapstructure:"produce"`
	JoinAudio             bool          `mapstructure:"join_audio"`
	JoinVideo             bool          `mapstructure:"join_video"`
	ForceTCP              bool          `mapstructure:"force_tcp"`
	UseSimulcast          bool          `mapstructure:"use_simulcast"`
	UseSharingSimulcast   bool          `mapstructure:"use_sharing_simulcast"`
	AdaptiveScalingFactor float64       `mapstructure:"adaptive_scaling_factor"`
	IceRestartDelay       time.Duration `mapstructure:"ice_restart_delay"`
	LayerDebounce         time.Duration `mapstructure:"layer_debounce"`
	ICEServers            []string      `mapstructure:"ice_servers"`
}

type SimulcastEncoding struct {
	ScaleResolutionDownBy float64 `mapstructure:"scale_resolution_down_by"`
	MaxBitrate            int     `mapstructure:"max_bitrate"`
}

type NetworkPriorities struct {
	Audio            string `mapstructure:"audio"`
	MainVideo        string `mapstructure:"main_video"`
	AdditionalVideos string `mapstructure:"additional_videos"`
	ScreenShare      string `mapstructure:"screen_share"`
}

type Spotlight struct {
	MaxSpotlights           int  `mapstructure:"max_spotlights"`
	HideNoVideoParticipants bool `mapstructure:"hide_no_video_participants"`
}

type Audio struct {
	DeviceID             string  `mapstructure:"device_id"`
	SampleRate           int     `mapstructure:"sample_rate"`
	ChannelCount         int     `mapstructure:"channel_count"`
	SampleSize           int     `mapstructure:"sample_size"`
	AutoGainControl      bool    `mapstructure:"auto_gain_control"`
	EchoCancellation     bool    `mapstructure:"echo_cancellation"`
	NoiseSuppression     bool    `mapstructure:"noise_suppression"`
	VoiceActivatedUnmute bool    `mapstructure:"voice_activated_unmute"`
	NoiseThreshold       float64 `mapstructure:"noise_threshold"`
}

type Video struct {
	DeviceID    string  `mapstructure:"device_id"`
	Resolution  string  `mapstructure:"resolution"`
	AspectRatio float64 `mapstructure:"aspect_ratio"`
	FrameRate   int     `mapstructure:"frame_rate"`
}

type HTTP struct {
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	ChatLimit  int           `mapstructure:"chat_limit"`
	ChatWindow time.Duration `mapstructure:"chat_window"`
}

var resolutionWidths = map[string]int{
	"low":      320,
	"medium":   640,
	"high":     1280,
	"veryhigh": 1920,
	"ultra":    3840,
}

// Dimensions resolves a resolution preset into width and height.
// Unknown presets fall back to "medium".
func (v Video) Dimensions() (int, int) {
	w, ok := resolutionWidths[v.Resolution]
	if !ok {
		w = resolutionWidths["medium"]
	}
	ar := v.AspectRatio
	if ar <= 0 {
		ar = 1.777
	}
	return w, int(float64(w) / ar)
}

// Profiles returns the simulcast table keyed by resolution threshold.
func (c *Config) Profiles() (map[int][]SimulcastEncoding, error) {
	out := make(map[int][]SimulcastEncoding, len(c.SimulcastProfiles))
	for k, encs := range c.SimulcastProfiles {
		size, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("simulcast profile key %q: %w", k, err)
		}
		out[size] = encs
	}
	return out, nil
}

// ProfileKeys returns the profile thresholds in descending order.
func ProfileKeys(profiles map[int][]SimulcastEncoding) []int {
	keys := make([]int, 0, len(profiles))
	for k := range profiles {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(keys)))
	return keys
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("display_name", "Guest")

	v.SetDefault("signaling.url", "wss://localhost:8443")
	v.SetDefault("signaling.request_timeout", "20s")
	v.SetDefault("signaling.request_retries", 3)
	v.SetDefault("signaling.reconnect_attempts", 10)
	v.SetDefault("signaling.reconnect_delay", "1s")
	v.SetDefault("signaling.queue_size", 256)

	v.SetDefault("media.produce", true)
	v.SetDefault("media.join_audio", true)
	v.SetDefault("media.join_video", false)
	v.SetDefault("media.use_simulcast", true)
	v.SetDefault("media.use_sharing_simulcast", true)
	v.SetDefault("media.adaptive_scaling_factor", 0.75)
	v.SetDefault("media.ice_restart_delay", "2s")
	v.SetDefault("media.layer_debounce", "300ms")

	v.SetDefault("simulcast_profiles", map[string]any{
		"3840": []map[string]any{
			{"scale_resolution_down_by": 12, "max_bitrate": 150000},
			{"scale_resolution_down_by": 6, "max_bitrate": 500000},
			{"scale_resolution_down_by": 1, "max_bitrate": 10000000},
		},
		"1920": []map[string]any{
			{"scale_resolution_down_by": 4, "max_bitrate": 150000},
			{"scale_resolution_down_by": 2, "max_bitrate": 500000},
			{"scale_resolution_down_by": 1, "max_bitrate": 3500000},
		},
		"1280": []map[string]any{
			{"scale_resolution_down_by": 4, "max_bitrate": 150000},
			{"scale_resolution_down_by": 2, "max_bitrate": 500000},
			{"scale_resolution_down_by": 1, "max_bitrate": 1200000},
		},
		"640": []map[string]any{
			{"scale_resolution_down_by": 2, "max_bitrate": 150000},
			{"scale_resolution_down_by": 1, "max_bitrate": 500000},
		},
		"320": []map[string]any{
			{"scale_resolution_down_by": 1, "max_bitrate": 150000},
		},
	})

	v.SetDefault("network_priorities.audio", "high")
	v.SetDefault("network_priorities.main_video", "high")
	v.SetDefault("network_priorities.additional_videos", "medium")
	v.SetDefault("network_priorities.screen_share", "medium")

	v.SetDefault("spotlight.max_spotlights", 4)
	v.SetDefault("spotlight.hide_no_video_participants", false)

	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.channel_count", 1)
	v.SetDefault("audio.sample_size", 16)
	v.SetDefault("audio.auto_gain_control", true)
	v.SetDefault("audio.echo_cancellation", true)
	v.SetDefault("audio.noise_suppression", true)
	v.SetDefault("audio.voice_activated_unmute", false)
	v.SetDefault("audio.noise_threshold", -60)

	v.SetDefault("video.resolution", "medium")
	v.SetDefault("video.aspect_ratio", 1.777)
	v.SetDefault("video.frame_rate", 15)
	v.SetDefault("screen.resolution", "veryhigh")
	v.SetDefault("screen.aspect_ratio", 1.777)
	v.SetDefault("screen.frame_rate", 5)

	v.SetDefault("http.port", 8090)
	v.SetDefault("http.chat_limit", 5)
	v.SetDefault("http.chat_window", "10s")
}

// Default returns the configuration built from defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if _, err := cfg.Profiles(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Str("signaling", cfg.Signaling.URL).
		Int("http_port", cfg.HTTP.Port).
		Msg("config ready")
	return &cfg, nil
}
