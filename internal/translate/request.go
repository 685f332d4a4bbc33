package translate

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"github.com/qiuyan86/antigravity-gateway/internal/antigravity"
)

// Defaults are the sampling values used when the caller omits a parameter.
type Defaults struct {
	TopP        float64
	TopK        int
	Temperature float64
	MaxTokens   int
}

// DefaultSampling is the stock parameter set.
var DefaultSampling = Defaults{
	TopP:        0.95,
	TopK:        64,
	Temperature: 1.0,
	MaxTokens:   8192,
}

var stopSequences = []string{
	"<|user|>",
	"<|bot|>",
	"<|context_request|>",
	"<|endoftext|>",
	"<|end_of_turn|>",
}

// Builder assembles complete backend request envelopes.
type Builder struct {
	translator        *Translator
	systemInstruction string
	defaults          Defaults
}

// NewBuilder constructs a Builder.
func NewBuilder(t *Translator, systemInstruction string, defaults Defaults) *Builder {
	return &Builder{
		translator:        t,
		systemInstruction: systemInstruction,
		defaults:          defaults,
	}
}

// BuildRequest translates the conversation and computes the full request
// envelope for the given caller-visible model name.
func (b *Builder) BuildRequest(ctx context.Context, messages []Message, model string, params Parameters, tools []ToolDef) (*antigravity.GenerateRequest, error) {
	thinking := antigravity.ThinkingEnabled(model)
	actual := antigravity.EffectiveModel(model)

	contents, err := b.translator.ToContents(ctx, messages, model)
	if err != nil {
		return nil, err
	}

	sys := &antigravity.Content{
		Role:  "user",
		Parts: []antigravity.Part{antigravity.TextPart(b.systemInstruction)},
	}

	return &antigravity.GenerateRequest{
		Project:   projectID(),
		RequestID: "agent-" + uuid.NewString(),
		Request: antigravity.Request{
			Contents:          contents,
			SystemInstruction: sys,
			Tools:             convertTools(tools),
			ToolConfig: &antigravity.ToolConfig{
				FunctionCallingConfig: antigravity.FunctionCallingConfig{Mode: "VALIDATED"},
			},
			GenerationConfig: b.generationConfig(params, thinking, actual, model),
			SessionID:        sessionID(),
		},
		Model:     actual,
		UserAgent: "antigravity",
	}, nil
}

// familyRule captures the generation-config adjustments one model family
// needs. Every matching rule applies.
type familyRule struct {
	match                func(model string) bool
	omitTopPWhenThinking bool
	responseModalities   []string
	allowImageSize       bool
}

var familyRules = []familyRule{
	{
		match:                func(m string) bool { return strings.Contains(m, "claude") },
		omitTopPWhenThinking: true,
	},
	{
		match:              func(m string) bool { return strings.Contains(m, "image") },
		responseModalities: []string{"TEXT", "IMAGE"},
	},
	{
		match:          func(m string) bool { return strings.Contains(m, antigravity.BaseImageModel) },
		allowImageSize: true,
	},
}

// generationConfig assembles the sampling settings. actual is the backend
// model identifier; callerModel keeps the caller's suffixes, which is where
// the requested image size lives.
func (b *Builder) generationConfig(params Parameters, thinking bool, actual, callerModel string) antigravity.GenerationConfig {
	topP := valueOr(params.TopP, b.defaults.TopP)
	topK := valueOr(params.TopK, b.defaults.TopK)
	temp := valueOr(params.Temperature, b.defaults.Temperature)

	cfg := antigravity.GenerationConfig{
		TopP:            &topP,
		TopK:            &topK,
		Temperature:     &temp,
		CandidateCount:  1,
		MaxOutputTokens: valueOr(params.MaxTokens, b.defaults.MaxTokens),
		StopSequences:   stopSequences,
	}
	if thinking {
		cfg.ThinkingConfig = &antigravity.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  1024,
		}
	}

	for _, rule := range familyRules {
		if !rule.match(actual) {
			continue
		}
		if rule.omitTopPWhenThinking && thinking {
			cfg.TopP = nil
		}
		if rule.responseModalities != nil {
			cfg.ResponseModalities = rule.responseModalities
		}
		if rule.allowImageSize {
			if size := antigravity.ImageSize(callerModel); size != "" {
				cfg.ImageConfig = &antigravity.ImageConfig{ImageSize: size}
			}
		}
	}

	return cfg
}

func valueOr[T any](p *T, fallback T) T {
	if p != nil {
		return *p
	}
	return fallback
}

// convertTools maps OpenAI tool declarations onto backend declarations.
func convertTools(tools []ToolDef) []antigravity.Tool {
	out := make([]antigravity.Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Function.Parameters
		delete(params, "$schema")
		out = append(out, antigravity.Tool{
			FunctionDeclarations: []antigravity.FunctionDeclaration{
				{
					Name:        t.Function.Name,
					Description: t.Function.Description,
					Parameters:  params,
				},
			},
		})
	}
	return out
}

var (
	projectAdjectives = []string{"useful", "bright", "swift", "calm", "bold"}
	projectNouns      = []string{"fuze", "wave", "spark", "flow", "core"}
)

func projectID() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 5)
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return fmt.Sprintf("%s-%s-%s",
		projectAdjectives[rand.Intn(len(projectAdjectives))],
		projectNouns[rand.Intn(len(projectNouns))],
		suffix,
	)
}

func sessionID() string {
	return fmt.Sprintf("-%d", rand.Int63n(1<<62))
}
