package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSynth struct {
	calls int32
	delay time.Duration
}

func (f *fakeSynth) SynthesizeBatch(ctx context.Context, text, voiceParams string) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return []byte("audio:" + text), nil
}

func TestGetOrSynthesizeCachesHits(t *testing.T) {
	synth := &fakeSynth{}
	c := New(10, synth)

	ctx := context.Background()
	if _, err := c.GetOrSynthesize(ctx, "hello", "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.GetOrSynthesize(ctx, "hello", "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if synth.calls != 1 {
		t.Fatalf("expected exactly one synthesis call on cache hit, got %d", synth.calls)
	}
}

func TestGetOrSynthesizeConcurrentMissSingleFlight(t *testing.T) {
	synth := &fakeSynth{delay: 50 * time.Millisecond}
	c := New(10, synth)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetOrSynthesize(context.Background(), "same text", "v1")
		}()
	}
	wg.Wait()

	if synth.calls != 1 {
		t.Fatalf("expected a single synthesis call under concurrent miss, got %d", synth.calls)
	}
}

func TestLRUEviction(t *testing.T) {
	synth := &fakeSynth{}
	c := New(2, synth)
	ctx := context.Background()

	c.GetOrSynthesize(ctx, "a", "v1")
	c.GetOrSynthesize(ctx, "b", "v1")
	c.GetOrSynthesize(ctx, "a", "v1") // refresh "a" to most-recently-used
	c.GetOrSynthesize(ctx, "c", "v1") // evicts "b"

	if c.Len() != 2 {
		t.Fatalf("expected cache capped at 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get(Key("b", "v1")); ok {
		t.Fatal("expected least-recently-used entry 'b' to be evicted")
	}
	if _, ok := c.Get(Key("a", "v1")); !ok {
		t.Fatal("expected recently-used entry 'a' to survive eviction")
	}
}

func TestKeyDependsOnVoiceParams(t *testing.T) {
	if Key("hello", "v1") == Key("hello", "v2") {
		t.Fatal("expected different voice params to produce different cache keys")
	}
}

func ExampleKey() {
	fmt.Println(len(Key("hi", "v1")) == 64)
	// Output: true
}
