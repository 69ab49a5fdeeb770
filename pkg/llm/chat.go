package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ferd/sift/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// ChatConfig represents the configuration for the answer engine.
type ChatConfig struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	BaseURL        string // Ollama server URL
	ContextChars   int    // cap on the grounding context passed to the model
}

const defaultSystemTemplate = "You are a precise assistant. Use ONLY the provided CONTEXT to answer. " +
	"If the answer is not in the context, say you don't have enough information."

// ChatEngine answers questions grounded on retrieved incidents.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "llama3.1:8b"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = defaultSystemTemplate
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.ContextChars == 0 {
		config.ContextChars = 6000
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

// BuildContext renders the hits into the grounding block sent to the
// model, capped at maxChars.
func BuildContext(hits []models.SearchHit, maxChars int) string {
	var parts []string
	for i, h := range hits {
		parts = append(parts, fmt.Sprintf(
			"[Doc %d] id=%s | score=%.4f | updated_at=%s\nTITLE: %s\nBODY: %s\n",
			i+1, h.ID, h.Score, h.UpdatedAt, h.Title, strings.TrimSpace(h.Body)))
	}
	ctx := strings.TrimSpace(strings.Join(parts, "\n"))
	if maxChars > 0 && len(ctx) > maxChars {
		ctx = ctx[:maxChars]
	}
	return ctx
}

// BuildPrompt assembles the user message: context first, then the
// question verbatim.
func BuildPrompt(question, context string) string {
	return fmt.Sprintf(
		"CONTEXT:\n%s\n\nQUESTION:\n%s\n\n"+
			"Return a concise answer. If multiple incidents apply, use bullet points.",
		context, question)
}

// Answer generates a grounded answer for the question from the hits.
func (ce *ChatEngine) Answer(ctx context.Context, question string, hits []models.SearchHit) (string, error) {
	grounding := BuildContext(hits, ce.config.ContextChars)

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, BuildPrompt(question, grounding)),
	}

	opts := []llms.CallOption{
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
	if ce.config.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(ce.config.Temperature))
	}

	response, err := ce.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("generation at %s failed: %w", ce.config.BaseURL, err)
	}
	if len(response.Choices) == 0 || response.Choices[0].Content == "" {
		return "", fmt.Errorf("no response from model %s", ce.config.Model)
	}

	return strings.TrimSpace(response.Choices[0].Content), nil
}
