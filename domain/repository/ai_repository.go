package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Songmu/retry"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/pyama86/RCRA/domain/entity"
)

type AIRepository struct {
	client *openai.Client
	model  string
}

func NewAIRepository() (*AIRepository, error) {
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("AZURE_OPENAI_KEY") == "" {
		return nil, nil
	}

	var model = "gpt-4"
	if os.Getenv("OPENAI_MODEL") != "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	client, err := newOpenAIClient()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}
	return &AIRepository{
		client: client,
		model:  model,
	}, nil
}

func newOpenAIClient() (*openai.Client, error) {
	if os.Getenv("AZURE_OPENAI_ENDPOINT") != "" {
		return newAzureClient()
	}

	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	options := []option.RequestOption{
		option.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
	}

	c := openai.NewClient(options...)
	return &c, nil
}

func newAzureClient() (*openai.Client, error) {
	key := os.Getenv("AZURE_OPENAI_KEY")
	if key == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_KEY is not set")
	}
	var azureOpenAIEndpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")

	var azureOpenAIAPIVersion = "2025-01-01-preview"

	if os.Getenv("AZURE_OPENAI_API_VERSION") != "" {
		azureOpenAIAPIVersion = os.Getenv("AZURE_OPENAI_API_VERSION")
	}

	c := openai.NewClient(
		azure.WithEndpoint(azureOpenAIEndpoint, azureOpenAIAPIVersion),
		azure.WithAPIKey(key),
	)
	return &c, nil
}

const rcaPrompt = `You are an SRE root cause analysis assistant.

Given the following log snippet, respond in strict JSON with fields:
- summary: short human-readable summary of the issue
- probable_root_cause: concise root cause explanation
- severity: one of LOW, MEDIUM, HIGH, CRITICAL
- suggested_remediation_steps: list of 3-5 actionable steps
- tags: array of keywords
- recurrence_hint: boolean, true if this looks like a recurring/systemic issue
- auto_remediation_candidate: boolean, true if safe/appropriate to attempt auto remediation
- rationale: short sentence explaining the recurrence/eligibility decision

Log:
`

// AnalyzeLog はログの根本原因解析を行う。
// モデルがJSONを返さなかった場合もエラーにせずフォールバックの解析結果を返す
func (h *AIRepository) AnalyzeLog(ctx context.Context, rawMessage string) (*entity.Analysis, error) {
	text, err := h.callOpenAIWithRetry(ctx, rcaPrompt+rawMessage)
	if err != nil {
		return nil, err
	}

	analysis := &entity.Analysis{}
	if err := json.Unmarshal([]byte(extractJSON(text)), analysis); err != nil {
		return fallbackAnalysis(text), nil
	}

	switch analysis.Severity {
	case entity.SeverityLow, entity.SeverityMedium, entity.SeverityHigh, entity.SeverityCritical:
	default:
		analysis.Severity = entity.SeverityUnknown
	}
	return analysis, nil
}

func fallbackAnalysis(text string) *entity.Analysis {
	summary := text
	if len(summary) > 200 {
		summary = summary[:200]
	}
	return &entity.Analysis{
		Summary:           summary,
		ProbableRootCause: "Model returned non-JSON text.",
		Severity:          entity.SeverityMedium,
		SuggestedRemediationSteps: []string{
			"Review full logs in CloudWatch.",
			"Refine RCA prompt and retry.",
		},
		Tags:                     []string{"fallback"},
		RecurrenceHint:           false,
		AutoRemediationCandidate: false,
		Rationale:                "Fallback - model did not return JSON.",
	}
}

// コードフェンス等に包まれた応答から先頭の{から末尾の}までを取り出す
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

func (h *AIRepository) callOpenAIWithRetry(ctx context.Context, prompt string) (string, error) {
	var result string
	err := retry.Retry(3, time.Second*3, func() error {
		resp, err := h.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Model: h.model,
		})
		if err != nil {
			return err
		}

		if len(resp.Choices) == 0 {
			return fmt.Errorf("no response from OpenAI")
		}

		result = resp.Choices[0].Message.Content
		return nil
	})

	return result, err
}
