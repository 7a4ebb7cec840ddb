package providers

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 5000
	moodTemperature     = 0.3
	moodMaxTokens       = 10
	moodCacheExpiration = 10 * time.Minute
	moodCacheCleanup    = 30 * time.Minute
)

const moodSystemPrompt = `Analyze the mood of the given message and return one of these moods:
"happy", "excited", "neutral", "calm", "sad", "frustrated", "angry"

Return only the mood word, nothing else.`

// Config describes one OpenAI-compatible chat endpoint. A zero
// RequestsPerSecond disables the limiter.
type Config struct {
	Name              string  `yaml:"name"`
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	DefaultModel      string  `yaml:"default_model"`
	MoodModel         string  `yaml:"mood_model"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ChatProvider talks to OpenAI and to the OpenAI-compatible endpoints of
// Mistral and Google.
type ChatProvider struct {
	config    Config
	client    *go_openai.Client
	limiter   *rate.Limiter
	moodCache *gocache.Cache
}

var _ Provider = (*ChatProvider)(nil)
var _ Completer = (*ChatProvider)(nil)

func NewChatProvider(config Config) (*ChatProvider, error) {
	if config.APIKey == "" {
		log.Warn().Str("provider", config.Name).Msg("API key is not set, requests will fail and fall back")
	}
	if config.BaseURL == "" {
		return nil, errors.Errorf("no base URL for %s", config.Name)
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.MoodModel == "" {
		config.MoodModel = config.DefaultModel
	}

	clientConfig := go_openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL

	ret := &ChatProvider{
		config:    config,
		client:    go_openai.NewClientWithConfig(clientConfig),
		moodCache: gocache.New(moodCacheExpiration, moodCacheCleanup),
	}
	if config.RequestsPerSecond > 0 {
		ret.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}
	return ret, nil
}

func (p *ChatProvider) Name() string {
	return p.config.Name
}

func (p *ChatProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func toOpenAIMessages(messages []ChatMessage) []go_openai.ChatCompletionMessage {
	ret := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := go_openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = go_openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = go_openai.ChatMessageRoleAssistant
		case RoleUser:
		}
		ret = append(ret, go_openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return ret
}

func (p *ChatProvider) complete(ctx context.Context, req go_openai.ChatCompletionRequest) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrapf(err, "%s chat completion failed", p.config.Name)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Errorf("%s returned no choices", p.config.Name)
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", errors.Errorf("%s returned empty content", p.config.Name)
	}
	return content, nil
}

// Generate asks the model for the next in-character message. Transport or
// format errors are logged and answered with FallbackReply.
func (p *ChatProvider) Generate(ctx context.Context, req Request) (Reply, error) {
	messages, err := BuildChatMessages(req)
	if err != nil {
		return Reply{}, err
	}

	model := req.Agent.ModelName
	if model == "" {
		model = p.config.DefaultModel
	}
	temperature := DefaultTemperature
	if req.Agent.Temperature != nil {
		temperature = *req.Agent.Temperature
	}
	temperature = req.Intervention.AdjustTemperature(temperature)

	log.Debug().
		Str("provider", p.config.Name).
		Str("model", model).
		Str("agent", req.Agent.Name).
		Int("history", len(req.History)).
		Str("intervention", string(req.Intervention)).
		Msg("Generating agent response")

	content, err := p.complete(ctx, go_openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: float32(temperature),
		MaxTokens:   p.config.MaxTokens,
		ResponseFormat: &go_openai.ChatCompletionResponseFormat{
			Type: go_openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		log.Error().Err(err).Str("provider", p.config.Name).Msg("Error generating agent response")
		return FallbackReply(), nil
	}

	reply, err := ParseReply(content)
	if err != nil {
		log.Error().Err(err).Str("provider", p.config.Name).Str("content", conversation.Truncate(content, 200)).
			Msg("Could not parse agent response")
		return FallbackReply(), nil
	}
	return reply, nil
}

// AnalyzeMood classifies text with a short completion. Results are cached
// per text; failures and unknown words map to neutral.
func (p *ChatProvider) AnalyzeMood(ctx context.Context, text string) (conversation.Mood, error) {
	key := strings.TrimSpace(text)
	if cached, ok := p.moodCache.Get(key); ok {
		if mood, ok := cached.(conversation.Mood); ok {
			return mood, nil
		}
	}

	content, err := p.complete(ctx, go_openai.ChatCompletionRequest{
		Model: p.config.MoodModel,
		Messages: []go_openai.ChatCompletionMessage{
			{Role: go_openai.ChatMessageRoleSystem, Content: moodSystemPrompt},
			{Role: go_openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: moodTemperature,
		MaxTokens:   moodMaxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Error().Err(err).Str("provider", p.config.Name).Msg("Error analyzing mood")
		return conversation.MoodNeutral, nil
	}

	mood := conversation.NormalizeMood(strings.Trim(content, " \n\t.\"'"))
	p.moodCache.Set(key, mood, gocache.DefaultExpiration)
	return mood, nil
}

// CompleteJSON runs a one-shot completion in JSON mode.
func (p *ChatProvider) CompleteJSON(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = p.config.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	content, err := p.complete(ctx, go_openai.ChatCompletionRequest{
		Model: model,
		Messages: []go_openai.ChatCompletionMessage{
			{Role: go_openai.ChatMessageRoleSystem, Content: req.System},
			{Role: go_openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: float32(req.Temperature),
		MaxTokens:   maxTokens,
		ResponseFormat: &go_openai.ChatCompletionResponseFormat{
			Type: go_openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}
	return ExtractJSON(content), nil
}
