// Package config loads and validates external-service credentials and
// the tunable timeouts/limits that govern the call pipeline (C1).
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the process-wide, immutable-after-start settings used to
// construct every collaborator at startup.
type Config struct {
	HTTPAddress string
	PublicURL   string // base URL used to build pull-style audio artifact URLs and webhook callbacks

	MongoURI string
	MongoDB  string

	AssemblyAIKey string // STT provider credential

	DeepgramKey       string // default TTS provider credential
	ElevenLabsKey     string // premium TTS provider credential; selects ElevenLabs over Deepgram when present
	ElevenLabsVoiceID string

	ReasoningKey     string // LLM endpoint credential (Cerebras/Fireworks-shaped)
	ReasoningBaseURL string
	ReasoningModelID string

	EmbeddingKey     string // embedding provider credential (Voyage-AI-shaped)
	EmbeddingBaseURL string

	TwilioAccountSID string
	TwilioAuthToken  string

	// Tunables, named after spec.md §5/§9. Exposed as overridable fields
	// with the spec's defaults so tests can shrink them.
	CallIdleTimeout   time.Duration
	ModelTurnTimeout  time.Duration
	ToolCallTimeout   time.Duration
	SilenceTimeout    time.Duration
	ShutdownGrace     time.Duration
	BargeInMinChars   int
	MaxToolIters      int
	KContacts         int
	KEmails           int
	CacheMax          int
}

// Load reads environment variables (via a best-effort .env file) and
// returns a Config with sane defaults, warning rather than failing on a
// missing non-required credential — mirroring the teacher's
// "degrade gracefully, don't crash the process" posture.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading configuration from the environment only")
	}

	cfg := Config{
		HTTPAddress: getenvDefault("HTTP_ADDRESS", ":8080"),
		PublicURL:   os.Getenv("PUBLIC_BASE_URL"),

		MongoURI: getenvDefault("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  getenvDefault("MONGO_DB", "receptionist"),

		AssemblyAIKey: os.Getenv("ASSEMBLYAI_API_KEY"),

		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),

		ReasoningKey:     os.Getenv("REASONING_API_KEY"),
		ReasoningBaseURL: getenvDefault("REASONING_BASE_URL", "https://api.cerebras.ai/v1/chat/completions"),
		ReasoningModelID: getenvDefault("REASONING_MODEL_ID", "gpt-oss-120b"),

		EmbeddingKey:     os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingBaseURL: getenvDefault("EMBEDDING_BASE_URL", "https://api.voyageai.com/v1/embeddings"),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),

		CallIdleTimeout:  30 * time.Second,
		ModelTurnTimeout: 8 * time.Second,
		ToolCallTimeout:  3 * time.Second,
		SilenceTimeout:   6 * time.Second,
		ShutdownGrace:    2 * time.Second,
		BargeInMinChars:  3,
		MaxToolIters:     4,
		KContacts:        3,
		KEmails:          3,
		CacheMax:         100,
	}

	warnIfEmpty("ASSEMBLYAI_API_KEY", cfg.AssemblyAIKey, "transcription will not work")
	warnIfEmpty("DEEPGRAM_API_KEY", cfg.DeepgramKey, "default TTS provider will not work")
	warnIfEmpty("REASONING_API_KEY", cfg.ReasoningKey, "LLM reasoning will not work")
	warnIfEmpty("EMBEDDING_API_KEY", cfg.EmbeddingKey, "email vector search will not work")
	warnIfEmpty("TWILIO_AUTH_TOKEN", cfg.TwilioAuthToken, "webhook signature verification will reject every request")

	log.Printf("config: HTTP_ADDRESS=%s mongo_db=%s tts_provider=%s", cfg.HTTPAddress, cfg.MongoDB, cfg.ttsProviderName())
	return cfg
}

// UsesPremiumTTS reports whether the premium (ElevenLabs) provider
// credential is present and should be selected over the default
// (Deepgram) provider, per spec.md §6's environment contract.
func (c Config) UsesPremiumTTS() bool {
	return c.ElevenLabsKey != ""
}

func (c Config) ttsProviderName() string {
	if c.UsesPremiumTTS() {
		return "elevenlabs"
	}
	return "deepgram"
}

// Validate performs shape-only checks (HTTP_ADDRESS and MONGO_URI are
// non-empty; URLs are not parsed) —
// not live credential probing, which is out of scope per spec.md §1's
// "authentication scaffolding for external cloud APIs" exclusion.
func (c Config) Validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf("config: HTTP_ADDRESS must not be empty")
	}
	if c.MongoURI == "" {
		return fmt.Errorf("config: MONGO_URI must not be empty")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func warnIfEmpty(key, val, consequence string) {
	if val == "" {
		log.Printf("Warning: %s not set - %s", key, consequence)
	}
}
