package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	// SampleRatio is the share of new traces recorded, from 0 to 1.
	SampleRatio float64 `yaml:"sample_ratio"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Device      DeviceConfig     `yaml:"device"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Story       StoryConfig      `yaml:"story"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Audio       AudioConfig      `yaml:"audio"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Safety      SafetyConfig     `yaml:"safety"`
	Wakeword    WakewordConfig   `yaml:"wakeword"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type DeviceConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type StoryConfig struct {
	Language      string            `yaml:"language"`
	AgeRating     string            `yaml:"age_rating"`
	MaxParagraphs int               `yaml:"max_paragraphs"`
	DefaultPrompt string            `yaml:"default_prompt"`
	WakePrompts   map[string]string `yaml:"wake_prompts"`
}

// PipelineConfig bounds the generation → synthesis → playback pipeline.
type PipelineConfig struct {
	MaxConcurrentSynthesis int `yaml:"max_concurrent_synthesis"`
	AudioQueueSize         int `yaml:"audio_queue_size"`
	PlaybackTimeoutMS      int `yaml:"playback_timeout_ms"`
	SilenceDurationMS      int `yaml:"silence_duration_ms"`
}

func (p PipelineConfig) PlaybackTimeout() time.Duration {
	return time.Duration(p.PlaybackTimeoutMS) * time.Millisecond
}

func (p PipelineConfig) SilenceDuration() time.Duration {
	return time.Duration(p.SilenceDurationMS) * time.Millisecond
}

type AudioConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
	Player     string  `yaml:"player"` // oto, mock, null
	Volume     float64 `yaml:"volume"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec, gemini
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
	// Fallback providers are tried in order when the one before them fails
	// recoverably. An entry may be a bare mode name.
	Fallback []LLMConfig `yaml:"fallback"`
}

func (c *LLMConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Mode = node.Value
		return nil
	}
	type plain LLMConfig
	return node.Decode((*plain)(c))
}

// Chain returns the primary provider followed by its fallbacks. Fallback
// entries take unset fields from the primary, except the model, which is
// left to the provider's default.
func (c LLMConfig) Chain() []LLMConfig {
	primary := c
	primary.Fallback = nil
	chain := []LLMConfig{primary}
	for _, fb := range c.Fallback {
		entry := primary
		entry.Mode = fb.Mode
		entry.Model = fb.Model
		setString(&entry.Endpoint, fb.Endpoint)
		setString(&entry.Command, fb.Command)
		setString(&entry.APIKey, fb.APIKey)
		setInt(&entry.MaxTokens, fb.MaxTokens)
		setInt(&entry.TimeoutMS, fb.TimeoutMS)
		if fb.Temperature != 0 {
			entry.Temperature = fb.Temperature
		}
		chain = append(chain, entry)
	}
	return chain
}

type TTSConfig struct {
	Mode              string `yaml:"mode"` // mock, exec, openai
	Endpoint          string `yaml:"endpoint"`
	Command           string `yaml:"command"`
	Model             string `yaml:"model"`
	Voice             string `yaml:"voice"`
	APIKey            string `yaml:"api_key"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	TimeoutMS         int    `yaml:"timeout_ms"`
	// Fallback works as for LLMConfig.
	Fallback []TTSConfig `yaml:"fallback"`
}

func (c *TTSConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Mode = node.Value
		return nil
	}
	type plain TTSConfig
	return node.Decode((*plain)(c))
}

// Chain returns the primary synthesizer followed by its fallbacks, each
// taking unset fields from the primary.
func (c TTSConfig) Chain() []TTSConfig {
	primary := c
	primary.Fallback = nil
	chain := []TTSConfig{primary}
	for _, fb := range c.Fallback {
		entry := primary
		entry.Mode = fb.Mode
		setString(&entry.Endpoint, fb.Endpoint)
		setString(&entry.Command, fb.Command)
		setString(&entry.Model, fb.Model)
		setString(&entry.Voice, fb.Voice)
		setString(&entry.APIKey, fb.APIKey)
		setInt(&entry.RequestsPerMinute, fb.RequestsPerMinute)
		setInt(&entry.TimeoutMS, fb.TimeoutMS)
		chain = append(chain, entry)
	}
	return chain
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setInt(target *int, value int) {
	if value != 0 {
		*target = value
	}
}

type SafetyConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxPromptLength int      `yaml:"max_prompt_length"`
	BlockedWords    []string `yaml:"blocked_words"`
}

type WakewordConfig struct {
	Enabled        bool      `yaml:"enabled"`
	Engine         string    `yaml:"engine"` // porcupine, openwakeword, mock
	ListenOnStart  bool      `yaml:"listen_on_start"`
	Command        string    `yaml:"command"`
	AccessKey      string    `yaml:"access_key"`
	Keywords       []string  `yaml:"keywords"`
	Sensitivities  []float64 `yaml:"sensitivities"`
	ModelPath      string    `yaml:"model_path"`
	Threshold      float64   `yaml:"threshold"`
	DebounceMS     int       `yaml:"debounce_ms"`
	SampleRate     int       `yaml:"sample_rate"`
	FrameLength    int       `yaml:"frame_length"`
	MockIntervalMS int       `yaml:"mock_interval_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "storyteller",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
			SampleRatio:    1,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Device: DeviceConfig{
			ID:                "storyteller-1",
			Role:              "storyteller",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/stories.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Story: StoryConfig{
			Language:      "tr",
			AgeRating:     "5+",
			MaxParagraphs: 10,
			DefaultPrompt: "Tell me a bedtime story about cute animals",
			WakePrompts: map[string]string{
				"porcupine": "Tell me a bedtime story",
				"picovoice": "Tell me a bedtime story",
				"jarvis":    "Tell me an adventure story",
			},
		},
		Pipeline: PipelineConfig{
			MaxConcurrentSynthesis: 3,
			AudioQueueSize:         3,
			PlaybackTimeoutMS:      30000,
			SilenceDurationMS:      2000,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			Player:     "oto",
			Volume:     0.8,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   1024,
			Temperature: 0.7,
			TimeoutMS:   30000,
		},
		TTS: TTSConfig{
			Mode:              "mock",
			Endpoint:          "https://api.openai.com/v1/audio/speech",
			Model:             "tts-1",
			Voice:             "nova",
			RequestsPerMinute: 50,
			TimeoutMS:         30000,
		},
		Safety: SafetyConfig{
			Enabled:         true,
			MaxPromptLength: 500,
		},
		Wakeword: WakewordConfig{
			Enabled:        false,
			Engine:         "porcupine",
			ListenOnStart:  true,
			Keywords:       []string{"porcupine"},
			Sensitivities:  []float64{0.5},
			Threshold:      0.5,
			DebounceMS:     1000,
			SampleRate:     16000,
			FrameLength:    512,
			MockIntervalMS: 0,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "STORYTELLER_RUNTIME_NAME")
	overrideString(&cfg.Environment, "STORYTELLER_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "STORYTELLER_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "STORYTELLER_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "STORYTELLER_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "STORYTELLER_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "STORYTELLER_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "STORYTELLER_TELEMETRY_PROMETHEUS_BIND")
	overrideFloat(&cfg.Telemetry.SampleRatio, "STORYTELLER_TELEMETRY_SAMPLE_RATIO")
	overrideBool(&cfg.Bus.Enabled, "STORYTELLER_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "STORYTELLER_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "STORYTELLER_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "STORYTELLER_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "STORYTELLER_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "STORYTELLER_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "STORYTELLER_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "STORYTELLER_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "STORYTELLER_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "STORYTELLER_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Device.ID, "STORYTELLER_DEVICE_ID")
	overrideString(&cfg.Device.Role, "STORYTELLER_DEVICE_ROLE")
	overrideInt(&cfg.Device.HeartbeatInterval, "STORYTELLER_DEVICE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Device.HeartbeatTimeout, "STORYTELLER_DEVICE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "STORYTELLER_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "STORYTELLER_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "STORYTELLER_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "STORYTELLER_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "STORYTELLER_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Story.Language, "STORYTELLER_STORY_LANGUAGE")
	overrideString(&cfg.Story.AgeRating, "STORYTELLER_STORY_AGE_RATING")
	overrideInt(&cfg.Story.MaxParagraphs, "STORYTELLER_STORY_MAX_PARAGRAPHS")
	overrideString(&cfg.Story.DefaultPrompt, "STORYTELLER_STORY_DEFAULT_PROMPT")
	overrideInt(&cfg.Pipeline.MaxConcurrentSynthesis, "STORYTELLER_PIPELINE_MAX_CONCURRENT_SYNTHESIS")
	overrideInt(&cfg.Pipeline.AudioQueueSize, "STORYTELLER_PIPELINE_AUDIO_QUEUE_SIZE")
	overrideInt(&cfg.Pipeline.PlaybackTimeoutMS, "STORYTELLER_PIPELINE_PLAYBACK_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.SilenceDurationMS, "STORYTELLER_PIPELINE_SILENCE_DURATION_MS")
	overrideInt(&cfg.Audio.SampleRate, "STORYTELLER_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "STORYTELLER_AUDIO_CHANNELS")
	overrideString(&cfg.Audio.Player, "STORYTELLER_AUDIO_PLAYER")
	overrideFloat(&cfg.Audio.Volume, "STORYTELLER_AUDIO_VOLUME")
	overrideString(&cfg.LLM.Mode, "STORYTELLER_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "STORYTELLER_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "STORYTELLER_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "STORYTELLER_LLM_MODEL")
	overrideString(&cfg.LLM.APIKey, "STORYTELLER_LLM_API_KEY")
	overrideInt(&cfg.LLM.MaxTokens, "STORYTELLER_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "STORYTELLER_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "STORYTELLER_LLM_TIMEOUT_MS")
	overrideFallback(&cfg.LLM.Fallback, "STORYTELLER_LLM_FALLBACK", func(mode string) LLMConfig { return LLMConfig{Mode: mode} })
	overrideString(&cfg.TTS.Mode, "STORYTELLER_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "STORYTELLER_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Command, "STORYTELLER_TTS_COMMAND")
	overrideString(&cfg.TTS.Model, "STORYTELLER_TTS_MODEL")
	overrideString(&cfg.TTS.Voice, "STORYTELLER_TTS_VOICE")
	overrideString(&cfg.TTS.APIKey, "STORYTELLER_TTS_API_KEY")
	overrideInt(&cfg.TTS.RequestsPerMinute, "STORYTELLER_TTS_REQUESTS_PER_MINUTE")
	overrideInt(&cfg.TTS.TimeoutMS, "STORYTELLER_TTS_TIMEOUT_MS")
	overrideFallback(&cfg.TTS.Fallback, "STORYTELLER_TTS_FALLBACK", func(mode string) TTSConfig { return TTSConfig{Mode: mode} })
	overrideBool(&cfg.Safety.Enabled, "STORYTELLER_SAFETY_ENABLED")
	overrideInt(&cfg.Safety.MaxPromptLength, "STORYTELLER_SAFETY_MAX_PROMPT_LENGTH")
	overrideStringSlice(&cfg.Safety.BlockedWords, "STORYTELLER_SAFETY_BLOCKED_WORDS")
	overrideBool(&cfg.Wakeword.Enabled, "STORYTELLER_WAKEWORD_ENABLED")
	overrideString(&cfg.Wakeword.Engine, "STORYTELLER_WAKEWORD_ENGINE")
	overrideBool(&cfg.Wakeword.ListenOnStart, "STORYTELLER_WAKEWORD_LISTEN_ON_START")
	overrideString(&cfg.Wakeword.Command, "STORYTELLER_WAKEWORD_COMMAND")
	overrideString(&cfg.Wakeword.AccessKey, "STORYTELLER_WAKEWORD_ACCESS_KEY")
	overrideStringSlice(&cfg.Wakeword.Keywords, "STORYTELLER_WAKEWORD_KEYWORDS")
	overrideString(&cfg.Wakeword.ModelPath, "STORYTELLER_WAKEWORD_MODEL_PATH")
	overrideFloat(&cfg.Wakeword.Threshold, "STORYTELLER_WAKEWORD_THRESHOLD")
	overrideInt(&cfg.Wakeword.DebounceMS, "STORYTELLER_WAKEWORD_DEBOUNCE_MS")
	overrideInt(&cfg.Wakeword.MockIntervalMS, "STORYTELLER_WAKEWORD_MOCK_INTERVAL_MS")

	// Provider keys commonly live in the environment under their vendor names.
	if cfg.TTS.APIKey == "" {
		overrideString(&cfg.TTS.APIKey, "OPENAI_API_KEY")
	}
	if cfg.LLM.APIKey == "" {
		overrideString(&cfg.LLM.APIKey, "GEMINI_API_KEY")
	}
	if cfg.Wakeword.AccessKey == "" {
		overrideString(&cfg.Wakeword.AccessKey, "PICOVOICE_ACCESS_KEY")
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

// overrideFallback replaces a fallback chain with a comma separated list of
// modes.
func overrideFallback[T any](target *[]T, envKey string, entry func(mode string) T) {
	var modes []string
	overrideStringSlice(&modes, envKey)
	if len(modes) == 0 {
		return
	}
	chain := make([]T, 0, len(modes))
	for _, m := range modes {
		chain = append(chain, entry(m))
	}
	*target = chain
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Validate reports the first configuration problem found.
func Validate(cfg Config) error {
	return validate(cfg)
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be between 0 and 1")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Device.ID == "" {
		return errors.New("device.id must not be empty")
	}
	if cfg.Device.HeartbeatInterval <= 0 {
		return errors.New("device.heartbeat_interval_ms must be positive")
	}
	if cfg.Device.HeartbeatTimeout <= cfg.Device.HeartbeatInterval {
		return errors.New("device.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Story.Language {
	case "tr", "en":
	default:
		return errors.New("story.language must be one of tr|en")
	}
	if cfg.Story.AgeRating == "" {
		return errors.New("story.age_rating must not be empty")
	}
	if cfg.Story.MaxParagraphs <= 0 {
		return errors.New("story.max_paragraphs must be positive")
	}
	if cfg.Pipeline.MaxConcurrentSynthesis <= 0 {
		return errors.New("pipeline.max_concurrent_synthesis must be >= 1")
	}
	if cfg.Pipeline.AudioQueueSize <= 0 {
		return errors.New("pipeline.audio_queue_size must be >= 1")
	}
	if cfg.Pipeline.PlaybackTimeoutMS <= 0 {
		return errors.New("pipeline.playback_timeout_ms must be positive")
	}
	if cfg.Pipeline.SilenceDurationMS < 0 {
		return errors.New("pipeline.silence_duration_ms must be >= 0")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		return errors.New("audio.channels must be 1 or 2")
	}
	switch cfg.Audio.Player {
	case "oto", "mock", "null":
	default:
		return errors.New("audio.player must be one of oto|mock|null")
	}
	if cfg.Audio.Volume < 0 || cfg.Audio.Volume > 1 {
		return errors.New("audio.volume must be between 0 and 1")
	}
	for i, llm := range cfg.LLM.Chain() {
		if err := validateLLM(llm, i); err != nil {
			return err
		}
	}
	for i, tts := range cfg.TTS.Chain() {
		if err := validateTTS(tts, i); err != nil {
			return err
		}
	}
	if cfg.Safety.MaxPromptLength < 0 {
		return errors.New("safety.max_prompt_length must be >= 0")
	}
	if cfg.Wakeword.Enabled {
		switch cfg.Wakeword.Engine {
		case "porcupine", "openwakeword", "mock":
		default:
			return errors.New("wakeword.engine must be one of porcupine|openwakeword|mock")
		}
		if cfg.Wakeword.Engine != "mock" && cfg.Wakeword.Command == "" {
			return errors.New("wakeword.command must be set for hardware engines")
		}
		if cfg.Wakeword.Threshold < 0 || cfg.Wakeword.Threshold > 1 {
			return errors.New("wakeword.threshold must be between 0 and 1")
		}
		if cfg.Wakeword.SampleRate <= 0 {
			return errors.New("wakeword.sample_rate must be positive")
		}
		if cfg.Wakeword.FrameLength <= 0 {
			return errors.New("wakeword.frame_length must be positive")
		}
	}
	return nil
}

// section names the config block of the i-th provider in a chain.
func section(name string, i int) string {
	if i == 0 {
		return name
	}
	return fmt.Sprintf("%s.fallback[%d]", name, i-1)
}

func validateLLM(c LLMConfig, i int) error {
	name := section("llm", i)
	switch c.Mode {
	case "mock", "ollama", "exec", "gemini":
	default:
		return fmt.Errorf("%s.mode must be one of mock|ollama|exec|gemini", name)
	}
	if c.Mode == "ollama" && c.Endpoint == "" {
		return fmt.Errorf("%s.endpoint must be set when mode=ollama", name)
	}
	if c.Mode == "exec" && c.Command == "" {
		return fmt.Errorf("%s.command must be set when mode=exec", name)
	}
	if c.Mode == "gemini" && c.APIKey == "" {
		return fmt.Errorf("%s.api_key must be set when mode=gemini", name)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("%s.max_tokens must be >= 0", name)
	}
	return nil
}

func validateTTS(c TTSConfig, i int) error {
	name := section("tts", i)
	switch c.Mode {
	case "mock", "exec", "openai":
	default:
		return fmt.Errorf("%s.mode must be one of mock|exec|openai", name)
	}
	if c.Mode == "exec" && c.Command == "" {
		return fmt.Errorf("%s.command must be set when mode=exec", name)
	}
	if c.Mode == "openai" {
		if c.APIKey == "" {
			return fmt.Errorf("%s.api_key must be set when mode=openai", name)
		}
		if c.Endpoint == "" {
			return fmt.Errorf("%s.endpoint must be set when mode=openai", name)
		}
	}
	if c.RequestsPerMinute < 0 {
		return fmt.Errorf("%s.requests_per_minute must be >= 0", name)
	}
	return nil
}
