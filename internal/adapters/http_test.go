package adapters_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/narration-service/internal/adapters"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonHandler(t *testing.T, status int, body string) http.HandlerFunc {
	t.Helper()

	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func serviceConfig(url string) adapters.ServiceConfig {
	return adapters.ServiceConfig{Name: "test", BaseURL: url, FailureThreshold: 100, OpenTimeout: time.Minute}
}

func TestHTTPTransformer_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transform", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Hello world", payload["text"])
		assert.Equal(t, "dramatic", payload["tone"])

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, `{"status":"success","transformed_text":"HELLO, WORLD!"}`)
	}))
	t.Cleanup(server.Close)

	transformer := adapters.NewHTTPTransformer(serviceConfig(server.URL))

	text, err := transformer.Transform(context.Background(), core.TransformRequest{Text: "Hello world", Tone: "dramatic"})
	require.NoError(t, err)
	assert.Equal(t, "HELLO, WORLD!", text)
}

func TestHTTPTransformer_StatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   error
	}{
		{http.StatusInternalServerError, core.ErrTransientService},
		{http.StatusBadGateway, core.ErrTransientService},
		{http.StatusServiceUnavailable, core.ErrTransientService},
		{http.StatusRequestTimeout, core.ErrTransientService},
		{http.StatusTooManyRequests, core.ErrTransientService},
		{http.StatusBadRequest, core.ErrPermanentService},
		{http.StatusNotFound, core.ErrPermanentService},
		{http.StatusUnprocessableEntity, core.ErrPermanentService},
	}

	for _, testCase := range cases {
		t.Run(http.StatusText(testCase.status), func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(jsonHandler(t, testCase.status, `{"detail":"nope","error_code":"E1"}`))
			t.Cleanup(server.Close)

			transformer := adapters.NewHTTPTransformer(serviceConfig(server.URL))

			_, err := transformer.Transform(context.Background(), core.TransformRequest{Text: "x", Tone: "formal"})
			require.ErrorIs(t, err, testCase.want)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestHTTPTransformer_MalformedResponses(t *testing.T) {
	t.Parallel()

	cases := map[string]http.HandlerFunc{
		"invalid json":  jsonHandler(t, http.StatusOK, `{"transformed_text":`),
		"empty text":    jsonHandler(t, http.StatusOK, `{"status":"success","transformed_text":""}`),
		"error status":  jsonHandler(t, http.StatusOK, `{"status":"error","error":"model crashed"}`),
		"content type": func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html></html>")
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(handler)
			t.Cleanup(server.Close)

			transformer := adapters.NewHTTPTransformer(serviceConfig(server.URL))

			_, err := transformer.Transform(context.Background(), core.TransformRequest{Text: "x", Tone: "formal"})
			require.ErrorIs(t, err, core.ErrPermanentService)
		})
	}
}

func TestHTTPTransformer_NetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(jsonHandler(t, http.StatusOK, `{}`))
	url := server.URL
	server.Close()

	transformer := adapters.NewHTTPTransformer(serviceConfig(url))

	_, err := transformer.Transform(context.Background(), core.TransformRequest{Text: "x", Tone: "formal"})
	require.ErrorIs(t, err, core.ErrTransientService)
}

func TestHTTPTransformer_DeadlineIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	transformer := adapters.NewHTTPTransformer(serviceConfig(server.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := transformer.Transform(ctx, core.TransformRequest{Text: "x", Tone: "formal"})
	require.ErrorIs(t, err, core.ErrTransientService)
}

func TestHTTPTransformer_EmptyTextIsPermanent(t *testing.T) {
	t.Parallel()

	transformer := adapters.NewHTTPTransformer(serviceConfig("http://127.0.0.1:1"))

	_, err := transformer.Transform(context.Background(), core.TransformRequest{Text: "  ", Tone: "formal"})
	require.ErrorIs(t, err, core.ErrPermanentService)
	require.ErrorIs(t, err, adapters.ErrEmptyText)
}

func TestCircuitBreaker_OpensOnTransientFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	cfg := serviceConfig(server.URL)
	cfg.FailureThreshold = 2
	enhancer := adapters.NewHTTPEnhancer(cfg)

	for range 2 {
		_, err := enhancer.Enhance(context.Background(), core.EnhanceRequest{Text: "x", Language: "en"})
		require.ErrorIs(t, err, core.ErrTransientService)
	}

	_, err := enhancer.Enhance(context.Background(), core.EnhanceRequest{Text: "x", Language: "en"})
	require.ErrorIs(t, err, core.ErrTransientService)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 2, hits.Load(), "open breaker short-circuits the call")
}

func TestCircuitBreaker_IgnoresPermanentFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	cfg := serviceConfig(server.URL)
	cfg.FailureThreshold = 1
	enhancer := adapters.NewHTTPEnhancer(cfg)

	for range 3 {
		_, err := enhancer.Enhance(context.Background(), core.EnhanceRequest{Text: "x", Language: "en"})
		require.ErrorIs(t, err, core.ErrPermanentService)
	}

	assert.EqualValues(t, 3, hits.Load())
}

func TestHTTPEnhancer_SendsNarrationRequest(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/enhance", r.URL.Path)

		var payload map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "narration", payload["enhancement_type"])
		assert.Equal(t, "fr", payload["language"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"enhanced_text":"Bonjour le monde."}`)
	}))
	t.Cleanup(server.Close)

	enhancer := adapters.NewHTTPEnhancer(serviceConfig(server.URL))

	text, err := enhancer.Enhance(context.Background(), core.EnhanceRequest{Text: "bonjour le monde", Language: "fr"})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour le monde.", text)
}

func TestHTTPAnalyzer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		body    string
		want    core.EmotionProfile
		wantErr error
	}{
		{
			name: "full profile",
			body: `{"primary_emotion":"Joy","intensity":0.7,"recommended_voice":"energetic_guide"}`,
			want: core.EmotionProfile{PrimaryEmotion: "joy", Intensity: 0.7, RecommendedVoice: "energetic_guide"},
		},
		{
			name: "defaults intensity and voice",
			body: `{"primary_emotion":"fear"}`,
			want: core.EmotionProfile{PrimaryEmotion: "fear", Intensity: 0.5, RecommendedVoice: "mysterious_voice"},
		},
		{name: "missing emotion", body: `{"intensity":0.3}`, wantErr: core.ErrPermanentService},
		{name: "intensity out of range", body: `{"primary_emotion":"joy","intensity":1.5}`, wantErr: core.ErrPermanentService},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(jsonHandler(t, http.StatusOK, testCase.body))
			t.Cleanup(server.Close)

			analyzer := adapters.NewHTTPAnalyzer(serviceConfig(server.URL))

			profile, err := analyzer.Analyze(context.Background(), "some text")
			if testCase.wantErr != nil {
				require.ErrorIs(t, err, testCase.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, testCase.want, profile)
		})
	}
}

func TestHTTPSynthesizer(t *testing.T) {
	t.Parallel()

	wav := []byte("RIFF....WAVEfmt ")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generate/speech", r.URL.Path)
		assert.Equal(t, "audio/wav", r.Header.Get("Accept"))

		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "mysterious_voice", payload["voice"])
		assert.Equal(t, "fear", payload["emotion"])
		assert.Equal(t, "en", payload["language"])

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	t.Cleanup(server.Close)

	synthesizer := adapters.NewHTTPSynthesizer(serviceConfig(server.URL))

	audioData, err := synthesizer.Synthesize(context.Background(), core.SpeechRequest{
		Text:    "It was dark.",
		Voice:   "mysterious_voice",
		Emotion: core.EmotionProfile{PrimaryEmotion: "fear", Intensity: 0.8},
	})
	require.NoError(t, err)
	assert.Equal(t, wav, audioData)
}

func TestHTTPSynthesizer_EmptyAudioIsPermanent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
	}))
	t.Cleanup(server.Close)

	synthesizer := adapters.NewHTTPSynthesizer(serviceConfig(server.URL))

	_, err := synthesizer.Synthesize(context.Background(), core.SpeechRequest{Text: "Hello"})
	require.ErrorIs(t, err, core.ErrPermanentService)
	require.ErrorIs(t, err, adapters.ErrMalformedResponse)
}

func TestHTTPSynthesizer_OversizedAudioIsPermanent(t *testing.T) {
	t.Parallel()

	wav := []byte("RIFF....WAVEfmt ")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	t.Cleanup(server.Close)

	exact := serviceConfig(server.URL)
	exact.MaxResponseBytes = int64(len(wav))

	audioData, err := adapters.NewHTTPSynthesizer(exact).Synthesize(context.Background(), core.SpeechRequest{Text: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, wav, audioData)

	tight := serviceConfig(server.URL)
	tight.MaxResponseBytes = int64(len(wav) - 1)

	_, err = adapters.NewHTTPSynthesizer(tight).Synthesize(context.Background(), core.SpeechRequest{Text: "Hello"})
	require.ErrorIs(t, err, core.ErrPermanentService)
	require.ErrorIs(t, err, adapters.ErrMalformedResponse)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(healthy.Close)

	unhealthy := httptest.NewServer(jsonHandler(t, http.StatusServiceUnavailable, `{}`))
	t.Cleanup(unhealthy.Close)

	require.NoError(t, adapters.NewHTTPSynthesizer(serviceConfig(healthy.URL)).HealthCheck(context.Background()))
	require.Error(t, adapters.NewHTTPSynthesizer(serviceConfig(unhealthy.URL)).HealthCheck(context.Background()))
}
