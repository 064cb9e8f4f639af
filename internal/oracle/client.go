package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
}

func New(baseURL, apiKey, model string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(config),
		model:       model,
		temperature: 0.2,
	}
}

func (c *Client) Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error) {
	content, err := c.complete(ctx, buildScorePrompt(req), true)
	if err != nil {
		return nil, err
	}
	return parseScore(content)
}

func (c *Client) Summarize(ctx context.Context, req SummaryRequest) (*SummaryResult, error) {
	content, err := c.complete(ctx, buildSummaryPrompt(req), true)
	if err != nil {
		return nil, err
	}
	return parseSummary(content)
}

func (c *Client) Clarify(ctx context.Context, req ClarifyRequest) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: buildClarifyPrompt(req)},
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistantMessage {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Text})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %v", ErrOracleFailure, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no response choices", ErrOracleFailure)
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrOracleFailure)
	}
	return reply, nil
}

func (c *Client) complete(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.temperature,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %v", ErrOracleFailure, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no response choices", ErrOracleFailure)
	}
	return resp.Choices[0].Message.Content, nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseScore(content string) (*ScoreResult, error) {
	var raw struct {
		Score        *float64           `json:"score"`
		Comment      string             `json:"comment"`
		RubricScores map[string]float64 `json:"rubric_scores"`
	}
	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return nil, fmt.Errorf("%w: parse score: %v", ErrOracleFailure, err)
	}
	if raw.Score == nil {
		return nil, fmt.Errorf("%w: response has no score", ErrOracleFailure)
	}
	return &ScoreResult{
		Score:        *raw.Score,
		Comment:      strings.TrimSpace(raw.Comment),
		RubricScores: raw.RubricScores,
	}, nil
}

func parseSummary(content string) (*SummaryResult, error) {
	var result SummaryResult
	if err := json.Unmarshal([]byte(stripFences(content)), &result); err != nil {
		return nil, fmt.Errorf("%w: parse summary: %v", ErrOracleFailure, err)
	}
	if strings.TrimSpace(result.Narrative) == "" && result.Sentiment == "" {
		return nil, fmt.Errorf("%w: empty summary", ErrOracleFailure)
	}
	return &result, nil
}
