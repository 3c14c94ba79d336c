package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crmsync/internal/config"
	"crmsync/internal/platform"
	"crmsync/internal/utils"
)

// ContactScorer classifies a contact from its message history into a lead
// score plus optional free-text context. A scoring failure means "no
// classification available", never an aborted conversation.
type ContactScorer interface {
	Score(ctx context.Context, contactName string, messages []platform.Message) (*ContactAnalysis, error)
}

// AIScorer scores contacts through an OpenAI-compatible chat completion API.
type AIScorer struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *utils.Logger
}

// NewAIScorer creates a scorer from AI configuration.
func NewAIScorer(cfg config.AIConfig) *AIScorer {
	return &AIScorer{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: utils.NewLogger("AIScorer"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// scoringResult is the JSON shape the model is asked to emit.
type scoringResult struct {
	LeadScore int    `json:"lead_score"`
	Context   string `json:"context"`
}

const scoringSystemPrompt = `You are a CRM lead qualification assistant. Given a conversation between a business and a contact, respond with a JSON object only, no prose: {"lead_score": <integer 0-100 rating purchase intent>, "context": "<one or two sentences summarizing the contact's situation and interest>"}`

// Score asks the model for a lead score and context summary.
func (s *AIScorer) Score(ctx context.Context, contactName string, messages []platform.Message) (*ContactAnalysis, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("AI scoring not configured")
	}

	var transcript strings.Builder
	fmt.Fprintf(&transcript, "Contact name: %s\n\nConversation (oldest first):\n", contactName)
	for _, msg := range messages {
		fmt.Fprintf(&transcript, "[%s] %s\n", msg.Sender, msg.Text)
	}

	reqBody := chatCompletionRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: scoringSystemPrompt},
			{Role: "user", Content: transcript.String()},
		},
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal scoring request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoring request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read scoring response: %w", err)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("decode scoring response: %w", err)
	}
	if completion.Error != nil {
		return nil, fmt.Errorf("scoring API error: %s", completion.Error.Message)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("scoring response contained no choices")
	}

	content := extractJSONObject(completion.Choices[0].Message.Content)
	var result scoringResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("parse scoring result %q: %w", content, err)
	}
	if result.LeadScore < 0 {
		result.LeadScore = 0
	}
	if result.LeadScore > 100 {
		result.LeadScore = 100
	}

	return &ContactAnalysis{LeadScore: result.LeadScore, Context: result.Context}, nil
}

// extractJSONObject strips markdown fences and surrounding prose the model
// sometimes wraps around the JSON payload.
func extractJSONObject(content string) string {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			return content[start : end+1]
		}
	}
	return content
}
