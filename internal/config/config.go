package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server.
type Config struct {
	Port   string
	WTAddr string // empty disables WebTransport

	AdminCode string

	// Agent
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string
	AgentName     string
	AgentTimeout  time.Duration

	// Speech
	ElevenLabsKey     string
	VoiceID           string
	VoiceModelID      string
	VoiceStability    float64
	VoiceSimilarity   float64
	VoiceStyle        float64
	VoiceSpeakerBoost bool
	ElevenLabsBaseURL string
	TTSTimeout        time.Duration

	// Rooms
	HistoryCapacity int
	RoomIdleTTL     time.Duration

	AuditDB string // empty disables the audit log
}

// Load reads configuration from environment variables, after loading a .env
// file if one exists. Malformed values fall back to their default with a
// warning.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:   getEnv("PORT", "3000"),
		WTAddr: os.Getenv("WT_ADDR"),

		AdminCode: os.Getenv("ADMIN_CODE"),

		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		AgentName:     getEnv("AGENT_NAME", "DogeAgent"),
		AgentTimeout:  getDuration("AGENT_TIMEOUT", 30*time.Second),

		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		VoiceID:           getEnv("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		VoiceModelID:      getEnv("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		VoiceStability:    getFloat("ELEVENLABS_STABILITY", 0.5),
		VoiceSimilarity:   getFloat("ELEVENLABS_SIMILARITY_BOOST", 0.75),
		VoiceStyle:        getFloat("ELEVENLABS_STYLE", 0),
		VoiceSpeakerBoost: getBool("ELEVENLABS_SPEAKER_BOOST", true),
		ElevenLabsBaseURL: getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		TTSTimeout:        getDuration("TTS_TIMEOUT", 20*time.Second),

		HistoryCapacity: getInt("HISTORY_CAPACITY", 200),
		RoomIdleTTL:     getDuration("ROOM_IDLE_TTL", 30*time.Minute),

		AuditDB: os.Getenv("AUDIT_DB"),
	}
}

// Addr returns the HTTP listen address for Port.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// AgentEnabled reports whether a reply generator is configured.
func (c *Config) AgentEnabled() bool { return c.OpenAIKey != "" }

// SpeechEnabled reports whether speech synthesis is configured.
func (c *Config) SpeechEnabled() bool { return c.ElevenLabsKey != "" }

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		slog.Warn("invalid config value, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return n
}

func getFloat(key string, defaultValue float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("invalid config value, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return f
}

func getBool(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("invalid config value, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return b
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("invalid config value, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return d
}
