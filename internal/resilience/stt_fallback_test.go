package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/bristlenose/bristlenose/pkg/provider/stt"
	sttmock "github.com/bristlenose/bristlenose/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	want := &stt.Transcript{Segments: []stt.Segment{{Text: "hello"}}}
	primary := &sttmock.Provider{TranscribeResponse: want}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), "session.wav", stt.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("transcript = %v, want %v", got, want)
	}
	if len(primary.TranscribeCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.TranscribeCalls))
	}
	if len(secondary.TranscribeCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.TranscribeCalls))
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errors.New("primary down")}
	want := &stt.Transcript{Segments: []stt.Segment{{Text: "hello"}}}
	secondary := &sttmock.Provider{TranscribeResponse: want}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), "session.wav", stt.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("transcript = %v, want %v", got, want)
	}
	if len(secondary.TranscribeCalls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.TranscribeCalls))
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errors.New("primary down")}
	secondary := &sttmock.Provider{TranscribeErr: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), "session.wav", stt.Options{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
