package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"crmsync/internal/config"
	"crmsync/internal/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAIScorerSendsConfiguredParameters(t *testing.T) {
	var captured chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"lead_score\": 72, \"context\": \"ready to buy\"}"}}]}`)
	}))
	defer srv.Close()

	scorer := NewAIScorer(config.AIConfig{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		Model:       "gpt-4o-mini",
		MaxTokens:   256,
		Temperature: 0.7,
	})

	analysis, err := scorer.Score(context.Background(), "Alice",
		[]platform.Message{{Sender: "p1", Text: "I want to order two"}})
	require.NoError(t, err)
	assert.Equal(t, 72, analysis.LeadScore)
	assert.Equal(t, "ready to buy", analysis.Context)

	assert.Equal(t, "gpt-4o-mini", captured.Model)
	assert.Equal(t, 256, captured.MaxTokens)
	assert.InDelta(t, 0.7, captured.Temperature, 1e-9)
}

func TestAIScorerParsesFencedReply(t *testing.T) {
	reply := "Here you go:\n```json\n{\"lead_score\": 150, \"context\": \"hot lead\"}\n```"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []interface{}{
				map[string]interface{}{"message": map[string]interface{}{"content": reply}},
			},
		}))
	}))
	defer srv.Close()

	scorer := NewAIScorer(config.AIConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	analysis, err := scorer.Score(context.Background(), "Bob", nil)
	require.NoError(t, err)
	assert.Equal(t, 100, analysis.LeadScore, "scores clamp to the 0-100 range")
	assert.Equal(t, "hot lead", analysis.Context)
}

func TestAIScorerRequiresAPIKey(t *testing.T) {
	scorer := NewAIScorer(config.AIConfig{BaseURL: "http://unused", Model: "m"})
	_, err := scorer.Score(context.Background(), "Alice", nil)
	require.Error(t, err)
}
