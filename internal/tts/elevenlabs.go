package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ElevenLabsProvider is the premium streaming TTS provider, selected
// over DeepgramProvider when an ElevenLabs credential is configured
// (spec.md §6's environment contract). Uses HTTP chunked streaming
// against the ulaw_8000 output format so frames are already in the
// telephony gateway's native encoding.
type ElevenLabsProvider struct {
	APIKey  string
	VoiceID string
}

// NewElevenLabsProvider constructs an ElevenLabsProvider.
func NewElevenLabsProvider(apiKey, voiceID string) *ElevenLabsProvider {
	return &ElevenLabsProvider{APIKey: apiKey, VoiceID: voiceID}
}

// Stream implements Provider.
func (e *ElevenLabsProvider) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	audioCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)
	go func() {
		defer close(audioCh)
		defer close(errCh)
		if e.APIKey == "" || e.VoiceID == "" {
			errCh <- fmt.Errorf("elevenlabs: api key or voice id missing")
			return
		}
		if text == "" {
			return
		}
		if err := e.httpStream(ctx, text, audioCh); err != nil {
			errCh <- err
		}
	}()
	return audioCh, errCh
}

// SynthesizeBatch blocks until the full reply is synthesized, for use
// by the audio artifact cache (C9) on a miss. voiceParams, when
// non-empty, overrides VoiceID for this call only.
func (e *ElevenLabsProvider) SynthesizeBatch(ctx context.Context, text, voiceParams string) ([]byte, error) {
	voiceID := e.VoiceID
	if voiceParams != "" {
		voiceID = voiceParams
	}
	provider := &ElevenLabsProvider{APIKey: e.APIKey, VoiceID: voiceID}
	frames, errCh := provider.Stream(ctx, text)
	var buf bytes.Buffer
	for frame := range frames {
		buf.Write(frame)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// httpStream streams audio via ElevenLabs' HTTP streaming endpoint,
// requesting mulaw/8kHz output directly so no transcoding is needed
// before the bytes reach the telephony gateway.
func (e *ElevenLabsProvider) httpStream(ctx context.Context, text string, audioCh chan<- []byte) error {
	u := url.URL{
		Scheme: "https",
		Host:   "api.elevenlabs.io",
		Path:   "/v1/text-to-speech/" + e.VoiceID + "/stream",
	}
	q := u.Query()
	q.Set("model_id", "eleven_flash_v2_5")
	q.Set("output_format", "ulaw_8000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": "eleven_flash_v2_5",
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 0}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: http stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("elevenlabs: http status=%d body=%s", resp.StatusCode, string(b))
	}

	chunk := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			out := make([]byte, n)
			copy(out, chunk[:n])
			select {
			case audioCh <- out:
			case <-ctx.Done():
				return nil
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return fmt.Errorf("elevenlabs: http read: %w", rerr)
		}
	}
}
