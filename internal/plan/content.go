package plan

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ContentUnavailable is the fixed fallback shown when a stored generation
// result cannot be parsed.
const ContentUnavailable = "content unavailable"

// completionPayload mirrors the chat-completion shape generation results are
// stored in: the first choice's message content is the display text.
type completionPayload struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ParseGeneratedResult extracts the human-readable asset from a stored
// generation result. It never panics on malformed input; callers decide
// whether to surface the error or degrade to ContentUnavailable.
func ParseGeneratedResult(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("empty generation result")
	}
	var payload completionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("parse generation result: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("generation result has no choices")
	}
	content := payload.Choices[0].Message.Content
	if content == "" {
		return "", errors.New("generation result has empty content")
	}
	return content, nil
}

// DisplayText returns the parsed asset text, or ContentUnavailable when the
// stored result is malformed.
func DisplayText(raw string) string {
	text, err := ParseGeneratedResult(raw)
	if err != nil {
		return ContentUnavailable
	}
	return text
}

// EncodeResult wraps generated text in the stored completion payload shape.
func EncodeResult(id, content string) (string, error) {
	payload := map[string]any{
		"id":     id,
		"object": "chat.completion",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
