package tts_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/teslashibe/go-persona/pkg/persona"
	"github.com/teslashibe/go-persona/pkg/tts"
)

func TestMockProvider(t *testing.T) {
	mock := tts.NewMock()
	ctx := context.Background()
	req := tts.Request{Text: "Hello world", Voice: "v1", Persona: "adina"}

	t.Run("Synthesize returns audio", func(t *testing.T) {
		result, err := mock.Synthesize(ctx, req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Audio) == 0 {
			t.Error("expected audio data")
		}
		if result.CharCount != 11 {
			t.Errorf("expected 11 chars, got %d", result.CharCount)
		}
		if result.MIMEType() != "audio/mpeg" {
			t.Errorf("expected audio/mpeg, got %s", result.MIMEType())
		}
	})

	t.Run("Stream returns audio stream", func(t *testing.T) {
		stream, err := mock.Stream(ctx, req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer stream.Close()

		chunk, err := stream.Read()
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		if len(chunk) == 0 {
			t.Error("expected audio chunk")
		}
		if next, _ := stream.Read(); next != nil {
			t.Error("expected end of stream")
		}
	})

	t.Run("Calls are tracked", func(t *testing.T) {
		if mock.CallCount("Synthesize") != 1 {
			t.Errorf("expected 1 Synthesize call, got %d", mock.CallCount("Synthesize"))
		}
		last := mock.LastCall()
		if last == nil || last.Persona != "adina" || last.Voice != "v1" {
			t.Errorf("unexpected last call: %+v", last)
		}
	})

	t.Run("Reset clears calls", func(t *testing.T) {
		mock.Reset()
		if len(mock.Calls()) != 0 {
			t.Error("expected calls to be cleared")
		}
	})
}

func TestMockWithError(t *testing.T) {
	testErr := errors.New("test error")
	mock := tts.WithError(testErr)
	ctx := context.Background()

	if _, err := mock.Synthesize(ctx, tts.Request{Text: "Hello"}); !errors.Is(err, testErr) {
		t.Errorf("expected test error, got %v", err)
	}
	if _, err := mock.Stream(ctx, tts.Request{Text: "Hello"}); err == nil {
		t.Error("expected stream error")
	}
	if err := mock.Health(ctx); err == nil {
		t.Error("expected health error")
	}
}

func TestMockWithLatency(t *testing.T) {
	mock := tts.WithLatency(tts.NewMock(), 50*time.Millisecond)

	start := time.Now()
	if _, err := mock.Synthesize(context.Background(), tts.Request{Text: "Hello"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("expected at least 50ms latency, got %v", elapsed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := mock.Synthesize(ctx, tts.Request{Text: "Hello"}); err == nil {
		t.Error("expected context deadline error")
	}
}

func TestFunctionalOptions(t *testing.T) {
	cfg := tts.DefaultConfig()
	cfg.Apply(
		tts.WithVoice("test-voice"),
		tts.WithModel("test-model"),
		tts.WithTimeout(5*time.Second),
		tts.WithOutputFormat(tts.EncodingPCM24),
		tts.WithPersonaVoice("rafa", "josh"),
	)

	if cfg.VoiceID != "test-voice" {
		t.Errorf("expected voice test-voice, got %s", cfg.VoiceID)
	}
	if cfg.ModelID != "test-model" {
		t.Errorf("expected model test-model, got %s", cfg.ModelID)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", cfg.Timeout)
	}
	if cfg.OutputFormat != tts.EncodingPCM24 {
		t.Errorf("expected PCM24 format, got %s", cfg.OutputFormat)
	}
	if cfg.PersonaVoices["rafa"] != "josh" {
		t.Errorf("expected persona voice josh, got %q", cfg.PersonaVoices["rafa"])
	}
	if cfg.Validate() != tts.ErrNoAPIKey {
		t.Error("expected ErrNoAPIKey without key")
	}
}

func TestAPIError(t *testing.T) {
	if err := (&tts.APIError{StatusCode: 429}); !err.IsRateLimited() || !err.IsRetryable() {
		t.Error("429 should be rate limited and retryable")
	}
	if err := (&tts.APIError{StatusCode: 401}); !err.IsUnauthorized() || err.IsRetryable() {
		t.Error("401 should be unauthorized and not retryable")
	}
	for _, code := range []int{500, 502, 503, 504} {
		if !(&tts.APIError{StatusCode: code}).IsServerError() {
			t.Errorf("expected IsServerError true for %d", code)
		}
	}

	err := &tts.APIError{StatusCode: 400, Message: "bad request", Code: "invalid_input", Provider: "elevenlabs"}
	if msg := err.Error(); msg != "tts [elevenlabs]: API error 400 (invalid_input): bad request" {
		t.Errorf("unexpected error message: %s", msg)
	}
}

func TestEncoding(t *testing.T) {
	tests := []struct {
		encoding   tts.Encoding
		sampleRate int
		mime       string
	}{
		{tts.EncodingPCM16, 16000, "audio/pcm"},
		{tts.EncodingPCM22, 22050, "audio/pcm"},
		{tts.EncodingPCM24, 24000, "audio/pcm"},
		{tts.EncodingPCM44, 44100, "audio/pcm"},
		{tts.EncodingMP3, 44100, "audio/mpeg"},
		{tts.EncodingULaw, 8000, "audio/basic"},
	}

	for _, tt := range tests {
		t.Run(string(tt.encoding), func(t *testing.T) {
			if rate := tts.SampleRateFromEncoding(tt.encoding); rate != tt.sampleRate {
				t.Errorf("expected %d, got %d", tt.sampleRate, rate)
			}
			if mime := tt.encoding.MIMEType(); mime != tt.mime {
				t.Errorf("expected %s, got %s", tt.mime, mime)
			}
		})
	}
}

func TestDataURI(t *testing.T) {
	r := &tts.AudioResult{Audio: []byte("abc"), Format: tts.AudioFormat{Encoding: tts.EncodingMP3}}
	want := "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString([]byte("abc"))
	if got := r.DataURI(); got != want {
		t.Errorf("DataURI() = %q, want %q", got, want)
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	req := tts.Request{Text: "Hello"}

	t.Run("NewChain requires providers", func(t *testing.T) {
		if _, err := tts.NewChain(); err != tts.ErrProviderUnavailable {
			t.Errorf("expected ErrProviderUnavailable, got %v", err)
		}
	})

	t.Run("First provider succeeds", func(t *testing.T) {
		mock1, mock2 := tts.NewMock(), tts.NewMock()
		chain, _ := tts.NewChain(mock1, mock2)
		defer chain.Close()

		if _, err := chain.Synthesize(ctx, req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mock1.CallCount("Synthesize") != 1 || mock2.CallCount("Synthesize") != 0 {
			t.Error("expected only the first provider to be called")
		}
	})

	t.Run("Fallback on failure", func(t *testing.T) {
		chain, _ := tts.NewChain(tts.WithError(errors.New("provider 1 failed")), tts.NewMock())

		result, err := chain.Synthesize(ctx, req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result == nil {
			t.Error("expected result from fallback provider")
		}
	})

	t.Run("All providers fail", func(t *testing.T) {
		fail1 := errors.New("fail 1")
		chain, _ := tts.NewChain(tts.WithError(fail1), tts.WithError(errors.New("fail 2")))

		_, err := chain.Synthesize(ctx, req)
		var chainErr *tts.ChainError
		if !errors.As(err, &chainErr) || len(chainErr.Errors) != 2 {
			t.Fatalf("expected ChainError with 2 errors, got %v", err)
		}
		if !errors.Is(err, fail1) {
			t.Error("expected ChainError to match every provider error")
		}
	})

	t.Run("Health passes with one healthy provider", func(t *testing.T) {
		chain, _ := tts.NewChain(tts.WithError(errors.New("down")), tts.NewMock())
		if err := chain.Health(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestProviderError(t *testing.T) {
	inner := errors.New("connection failed")
	err := tts.WrapError("elevenlabs", inner)

	if err.Error() != "tts [elevenlabs]: connection failed" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
	var pe *tts.ProviderError
	if !errors.As(err, &pe) || pe.Provider != "elevenlabs" {
		t.Error("expected ProviderError for elevenlabs")
	}
	if !errors.Is(err, inner) {
		t.Error("expected Unwrap to expose inner error")
	}
	if tts.WrapError("x", nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestElevenLabs(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "el-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.URL.Path == "/text-to-speech/21m00Tcm4TlvDq8ikWAM":
			if attempts.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"detail":{"message":"busy","status":"overloaded"}}`))
				return
			}
			if got := r.URL.Query().Get("output_format"); got != string(tts.EncodingMP3) {
				t.Errorf("output_format = %q", got)
			}
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["text"] != "Peace be with you" {
				t.Errorf("text = %v", body["text"])
			}
			_, _ = w.Write([]byte("ID3audio"))
		case r.URL.Path == "/text-to-speech/bad-voice":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":{"message":"voice not found","status":"voice_not_found"}}`))
		case strings.HasSuffix(r.URL.Path, "/stream"):
			_, _ = w.Write([]byte("chunked-audio"))
		case r.URL.Path == "/user":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	el, err := tts.NewElevenLabs(
		tts.WithAPIKey("el-key"),
		tts.WithBaseURL(srv.URL),
		tts.WithRetry(2, time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewElevenLabs: %v", err)
	}
	defer el.Close()
	ctx := context.Background()

	t.Run("retries then succeeds with preset voice", func(t *testing.T) {
		res, err := el.Synthesize(ctx, tts.Request{Text: "Peace be with you", Voice: "rachel"})
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if string(res.Audio) != "ID3audio" {
			t.Errorf("audio = %q", res.Audio)
		}
		if res.Voice != "21m00Tcm4TlvDq8ikWAM" || res.Provider != "elevenlabs" {
			t.Errorf("unexpected result metadata: %+v", res)
		}
		if attempts.Load() != 2 {
			t.Errorf("attempts = %d, want 2", attempts.Load())
		}
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		_, err := el.Synthesize(ctx, tts.Request{Text: "hi", Voice: "bad-voice"})
		var apiErr *tts.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.StatusCode != 400 || apiErr.Code != "voice_not_found" {
			t.Errorf("unexpected APIError: %+v", apiErr)
		}
	})

	t.Run("no voice", func(t *testing.T) {
		_, err := el.Synthesize(ctx, tts.Request{Text: "hi"})
		if !errors.Is(err, tts.ErrNoVoiceID) {
			t.Errorf("expected ErrNoVoiceID, got %v", err)
		}
	})

	t.Run("stream", func(t *testing.T) {
		stream, err := el.Stream(ctx, tts.Request{Text: "hi", Voice: "abc"})
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		defer stream.Close()
		var got []byte
		for {
			chunk, err := stream.Read()
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if chunk == nil {
				break
			}
			got = append(got, chunk...)
		}
		if string(got) != "chunked-audio" {
			t.Errorf("stream = %q", got)
		}
	})

	t.Run("health", func(t *testing.T) {
		if err := el.Health(ctx); err != nil {
			t.Errorf("Health: %v", err)
		}
	})
}

func TestElevenLabsRequiresKey(t *testing.T) {
	if _, err := tts.NewElevenLabs(); !errors.Is(err, tts.ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestOpenAIMapsPersonaVoice(t *testing.T) {
	var gotVoice string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			Voice string `json:"voice"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotVoice = body.Voice
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	o, err := tts.NewOpenAI(tts.WithAPIKey("k"), tts.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	// An ElevenLabs id is foreign to OpenAI, so the persona mapping wins.
	res, err := o.Synthesize(context.Background(), tts.Request{Text: "hi", Voice: "TxGEqnHWrfWFTfGW9XjX", Persona: "rafa"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotVoice != tts.VoiceOnyx {
		t.Errorf("voice = %q, want onyx", gotVoice)
	}
	if string(res.Audio) != "mp3" {
		t.Errorf("audio = %q", res.Audio)
	}
}

func TestGoogle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "text:synthesize") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "en-US-Neural2-F") {
			t.Errorf("request missing persona voice: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString([]byte("google-mp3")),
		})
	}))
	defer srv.Close()

	ctx := context.Background()
	g, err := tts.NewGoogle(ctx,
		tts.WithBaseURL(srv.URL+"/"),
		tts.WithClientOptions(option.WithoutAuthentication()),
	)
	if err != nil {
		t.Fatalf("NewGoogle: %v", err)
	}

	res, err := g.Synthesize(ctx, tts.Request{Text: "hi", Voice: "21m00Tcm4TlvDq8ikWAM", Persona: "adina"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Audio) != "google-mp3" || res.Voice != "en-US-Neural2-F" {
		t.Errorf("unexpected result: %q voice=%s", res.Audio, res.Voice)
	}
}

func TestSynthesizer(t *testing.T) {
	mock := tts.NewMock()
	adina := persona.Default().Lookup(persona.Adina)
	rafa := persona.Default().Lookup(persona.Rafa)
	rafa.Voice = "rafa-configured"

	s := tts.NewSynthesizer(mock, tts.WithVoices(map[string]string{"Adina": "adina-override"}))
	ctx := context.Background()

	if _, err := s.Synthesize(ctx, "  hello  ", adina); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	last := mock.LastCall()
	if last.Voice != "adina-override" || last.Text != "hello" || last.Persona != "adina" {
		t.Errorf("unexpected call: %+v", last)
	}

	if _, err := s.Synthesize(ctx, "hi", rafa); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if v := mock.LastCall().Voice; v != "rafa-configured" {
		t.Errorf("voice = %q, want persona voice", v)
	}

	rafa.Voice = ""
	if v := s.Voice(rafa); v != tts.DefaultPersonaVoices["rafa"] {
		t.Errorf("default voice = %q", v)
	}

	if _, err := s.Synthesize(ctx, "   ", adina); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
	if _, err := s.Synthesize(ctx, "hi", nil); !errors.Is(err, tts.ErrNoPersona) {
		t.Errorf("expected ErrNoPersona, got %v", err)
	}

	stream, err := s.Stream(ctx, "stream me", adina)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()
	if chunk, _ := stream.Read(); len(chunk) == 0 {
		t.Error("expected stream chunk")
	}
}
