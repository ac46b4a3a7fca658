package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/LeventeLantos/lead-relay/internal/model"
)

const systemPrompt = `You analyze real-estate lead form submissions.
Reply with a single JSON object and nothing else, using exactly these keys:
{"name": string, "phone": string, "email": string, "lead_type": string,
 "priority": "alta" | "media" | "baixa", "summary": string}.
lead_type is one of buyer, seller, tenant, landlord or other.
Use an empty string for anything the submission does not state.`

type OpenAIAnalyzer struct {
	client   openai.Client
	model    string
	fallback Analyzer
}

func NewOpenAIAnalyzer(apiKey, modelName, baseURL string) *OpenAIAnalyzer {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAnalyzer{
		client:   openai.NewClient(opts...),
		model:    modelName,
		fallback: FieldAnalyzer{},
	}
}

// Analyze never loses a lead: any model failure degrades to the field
// mapping, and fields the model left blank are filled from it.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, resp model.FormResponse) (model.Analysis, error) {
	base, _ := a.fallback.Analyze(ctx, resp)

	got, err := a.complete(ctx, resp)
	if err != nil {
		slog.Warn("llm analysis failed, using field mapping", "response_id", resp.ResponseID, "err", err)
		return base, nil
	}

	return merge(got, base), nil
}

func (a *OpenAIAnalyzer) complete(ctx context.Context, resp model.FormResponse) (model.Analysis, error) {
	payload, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return model.Analysis{}, fmt.Errorf("encode form response: %w", err)
	}

	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage("Form submission:\n" + string(payload)),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return model.Analysis{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return model.Analysis{}, errors.New("no choices in completion")
	}

	var out model.Analysis
	if err := json.Unmarshal([]byte(extractJSON(completion.Choices[0].Message.Content)), &out); err != nil {
		return model.Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	return out, nil
}

// extractJSON strips markdown code fences and any prose around the object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}

func merge(primary, base model.Analysis) model.Analysis {
	if primary.Name == "" {
		primary.Name = base.Name
	}
	if primary.Phone == "" {
		primary.Phone = base.Phone
	}
	if primary.Email == "" {
		primary.Email = base.Email
	}
	if primary.LeadType == "" {
		primary.LeadType = base.LeadType
	}
	if primary.Priority == "" {
		primary.Priority = base.Priority
	}
	if primary.Summary == "" {
		primary.Summary = base.Summary
	}
	return primary
}
