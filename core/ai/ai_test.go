package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestServiceClientGenerateContent(t *testing.T) {
	var modelCalls atomic.Int32
	r := mux.NewRouter()
	r.HandleFunc("/api/config/models", func(w http.ResponseWriter, _ *http.Request) {
		modelCalls.Add(1)
		_, _ = w.Write([]byte(`{"defaultModel":"base","lyricsModel":"lyrics-v2","temperature":0.8}`))
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/content/generate", func(w http.ResponseWriter, req *http.Request) {
		var body generateRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "write a song", body.Prompt)
		assert.Equal(t, "music-lyrics", body.Options.TemplateID)
		assert.Equal(t, "lyrics-v2", body.Parameters["model"])
		assert.Equal(t, "de", body.Parameters["language"])
		assert.InDelta(t, 0.8, body.Parameters["temperature"], 1e-9)
		_, _ = w.Write([]byte(`{"success":true,"content":"[Title]\nSong"}`))
	}).Methods(http.MethodPost)
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewServiceClient(srv.URL, 5*time.Second, time.Minute)
	for i := 0; i < 2; i++ {
		out, err := c.GenerateContent(context.Background(), ContentRequest{
			Prompt:     "write a song",
			Parameters: map[string]interface{}{"language": "de"},
			TemplateID: "music-lyrics",
		})
		require.NoError(t, err)
		assert.Equal(t, "[Title]\nSong", out)
	}
	assert.EqualValues(t, 1, modelCalls.Load(), "model config is cached")

	c.InvalidateModelConfig()
	_, err := c.ModelConfig(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, modelCalls.Load())
}

func TestServiceClientModelConfigExpires(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var modelCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		modelCalls.Add(1)
		_, _ = w.Write([]byte(`{"defaultModel":"base"}`))
	}))
	defer srv.Close()
	defer srv.CloseClientConnections()

	c := NewServiceClient(srv.URL, 5*time.Second, 20*time.Millisecond)
	_, err := c.ModelConfig(context.Background())
	require.NoError(t, err)
	_, err = c.ModelConfig(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, modelCalls.Load())

	time.Sleep(40 * time.Millisecond)
	_, err = c.ModelConfig(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, modelCalls.Load())
}

func TestServiceClientFailures(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/api/config/models", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	r.HandleFunc("/api/content/generate", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"quota exceeded"}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewServiceClient(srv.URL, 5*time.Second, time.Minute)
	_, err := c.GenerateContent(context.Background(), ContentRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestOpenAIClient(t *testing.T) {
	r := mux.NewRouter()
	r.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "custom-model", body["model"])
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"custom-model",
			"choices":[{"index":0,"message":{"role":"assistant","content":"[Title] Rain\nla la"},"finish_reason":"stop"}]}`))
	})
	r.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "url", body["response_format"])
		_, _ = w.Write([]byte(`{"created":1,"data":[{"url":"https://img.example.com/cover.png"}]}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Timeout: 5 * time.Second})

	text, err := c.GenerateContent(context.Background(), ContentRequest{
		Prompt:     "rain",
		Parameters: map[string]interface{}{"model": "custom-model", "temperature": 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, "[Title] Rain\nla la", text)

	url, err := c.GenerateImage(context.Background(), "a rainy window")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/cover.png", url)
}

func TestOpenAIClientImageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad prompt","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"})
	_, err := c.GenerateImage(context.Background(), "x")
	assert.Error(t, err)
}
