package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("REASONING_MODEL_ID", "")
	os.Setenv("MONGO_DB", "")

	cfg := Load()

	if cfg.HTTPAddress != ":8080" {
		t.Fatalf("expected default http address, got %q", cfg.HTTPAddress)
	}
	if cfg.ReasoningModelID == "" {
		t.Fatal("expected default reasoning model id")
	}
	if cfg.MongoDB != "receptionist" {
		t.Fatalf("expected default mongo db name, got %q", cfg.MongoDB)
	}
	if cfg.MaxToolIters != 4 {
		t.Fatalf("expected MAX_TOOL_ITERS default of 4, got %d", cfg.MaxToolIters)
	}
	if cfg.BargeInMinChars != 3 {
		t.Fatalf("expected BARGE_IN_MIN_CHARS default of 3, got %d", cfg.BargeInMinChars)
	}
}

func TestUsesPremiumTTS(t *testing.T) {
	cfg := Config{}
	if cfg.UsesPremiumTTS() {
		t.Fatal("expected no premium TTS without an ElevenLabs key")
	}
	cfg.ElevenLabsKey = "key"
	if !cfg.UsesPremiumTTS() {
		t.Fatal("expected premium TTS selection once an ElevenLabs key is present")
	}
}

func TestValidate(t *testing.T) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected a loaded config to validate, got %v", err)
	}
	cfg.MongoURI = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for empty MONGO_URI")
	}
}
