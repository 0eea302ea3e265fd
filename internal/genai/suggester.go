// Package genai drafts listing copy with an LLM. Suggestions are advisory
// only: they fill the draft the seller reviews, they never trigger a
// publish.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vintaloop/go-listing-backend/internal/domain"
)

// ErrNoSuggestion means the model returned nothing usable.
var ErrNoSuggestion = errors.New("no usable suggestion returned")

// Suggestion is the model's proposed listing copy.
type Suggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

const systemPrompt = `You write second-hand marketplace listings. Given the
facts of an item, respond with a single JSON object with keys "title",
"description" and "price". The title is at most 60 characters, the
description at most 600 characters, and the price a plain decimal string in
EUR with no currency sign. Do not invent attributes that were not provided.
Respond with JSON only, no prose.`

// Suggester produces listing copy through the chat completions API.
type Suggester struct {
	client openai.Client
	model  string
}

// NewSuggester builds a suggester with the given API key and model.
func NewSuggester(apiKey, model string) *Suggester {
	return &Suggester{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Suggest asks the model for title, description and price copy for a draft.
// The draft's own fields are the only facts offered to the model.
func (s *Suggester) Suggest(ctx context.Context, draft domain.DraftContext) (*Suggestion, error) {
	ctx, span := otel.Tracer("genai/suggester").Start(ctx, "Suggester.Suggest")
	defer span.End()
	span.SetAttributes(attribute.String("model", s.model))

	facts := factSheet(draft)
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(facts),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoSuggestion
	}
	sug, err := parseSuggestion(resp.Choices[0].Message.Content)
	if err != nil {
		log.Warn().Err(err).Int("content_len", len(resp.Choices[0].Message.Content)).Msg("model reply did not parse")
		return nil, err
	}
	return sug, nil
}

// factSheet renders the known draft fields as a plain key: value block,
// omitting anything empty so the model is never handed blanks to embellish.
func factSheet(draft domain.DraftContext) string {
	var b strings.Builder
	add := func(k, v string) {
		if strings.TrimSpace(v) != "" {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	add("title", draft.Title)
	add("brand", draft.Brand)
	add("size", draft.Size)
	add("condition", draft.Condition)
	add("color", draft.Color)
	add("category", draft.CategoryHint)
	add("current price", draft.Price)
	add("notes", draft.Description)
	return b.String()
}

// parseSuggestion decodes the model reply, tolerating a fenced code block
// around the JSON object.
func parseSuggestion(content string) (*Suggestion, error) {
	trimmed := strings.TrimSpace(content)
	if i := strings.Index(trimmed, "{"); i >= 0 {
		if j := strings.LastIndex(trimmed, "}"); j > i {
			trimmed = trimmed[i : j+1]
		}
	}
	var sug Suggestion
	if err := json.Unmarshal([]byte(trimmed), &sug); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSuggestion, err)
	}
	if strings.TrimSpace(sug.Title) == "" && strings.TrimSpace(sug.Description) == "" {
		return nil, ErrNoSuggestion
	}
	return &sug, nil
}
