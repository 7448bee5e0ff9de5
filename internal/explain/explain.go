// Package explain writes analyst-facing narratives for alerts. When an
// OpenRouter-compatible endpoint is configured it asks the model; otherwise,
// or when the call fails, it renders a fixed template from the score
// breakdown.
package explain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "openrouter/free"
	defaultTimeout = 60 * time.Second

	appTitle    = "Harrier Risk Review"
	appReferer  = "https://github.com/opensource-finance/harrier"
	temperature = 0.7
)

// Source reports how an explanation was produced.
type Source string

const (
	SourceModel    Source = "model"
	SourceTemplate Source = "template"
)

// Explanation is the narrative attached to an alert.
type Explanation struct {
	Text   string `json:"explanation"`
	Source Source `json:"source"`
	Model  string `json:"model,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Explainer produces alert explanations. The zero API key disables the
// model call entirely.
type Explainer struct {
	httpClient *resty.Client
	apiKey     string
	model      string
}

// New creates an explainer from configuration.
func New(cfg domain.ExplainConfig) *Explainer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("HTTP-Referer", appReferer).
		SetHeader("X-Title", appTitle)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Explainer{httpClient: client, apiKey: cfg.APIKey, model: cfg.Model}
}

// Enabled reports whether a model endpoint will be called.
func (e *Explainer) Enabled() bool {
	return e != nil && e.apiKey != ""
}

// Explain describes why alert was raised for tx. It never fails: model
// errors are logged and the template is returned instead.
func (e *Explainer) Explain(ctx context.Context, alert *domain.Alert, tx *domain.Transaction) Explanation {
	if !e.Enabled() {
		return Explanation{Text: Template(alert, tx), Source: SourceTemplate}
	}

	text, err := e.complete(ctx, Prompt(alert, tx))
	if err != nil {
		slog.Warn("explanation model unavailable, using template",
			"alert_id", alert.ID,
			"model", e.model,
			"error", err,
		)
		return Explanation{Text: Template(alert, tx), Source: SourceTemplate}
	}
	return Explanation{Text: text, Source: SourceModel, Model: e.model}
}

func (e *Explainer) complete(ctx context.Context, prompt string) (string, error) {
	var out chatResponse
	resp, err := e.httpClient.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       e.model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: temperature,
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("chat completion returned %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("chat completion returned empty content")
	}
	return text, nil
}

// Prompt asks for a short compliance narrative grounded in the score
// breakdown.
func Prompt(alert *domain.Alert, tx *domain.Transaction) string {
	var b strings.Builder
	b.WriteString("You are a financial crime analyst. In three or four sentences, explain to a compliance reviewer why this transaction was flagged. Refer only to the facts below.\n\n")
	writeFacts(&b, alert, tx)
	return b.String()
}

// Template renders the deterministic explanation used without a model.
func Template(alert *domain.Alert, tx *domain.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert raised with risk score %d (%s).", alert.RiskScore, alert.RiskLevel)
	if tx != nil {
		fmt.Fprintf(&b, " Customer %d sent %s to merchant %d in category %s (%s).",
			tx.CustomerID, tx.Amount.StringFixed(2), tx.MerchantID, tx.Category, tx.Type)
	}
	fmt.Fprintf(&b, " Rule score %d, model score %d.", alert.RuleScore, alert.MLScore)
	if len(alert.TriggeredRules) == 0 {
		b.WriteString(" No rules triggered; the score is driven by the model.")
		return b.String()
	}
	names := make([]string, 0, len(alert.TriggeredRules))
	for _, r := range alert.TriggeredRules {
		names = append(names, fmt.Sprintf("%s (+%d)", r.Name, r.ScoreImpact))
	}
	fmt.Fprintf(&b, " Triggered rules: %s.", strings.Join(names, ", "))
	return b.String()
}

func writeFacts(b *strings.Builder, alert *domain.Alert, tx *domain.Transaction) {
	fmt.Fprintf(b, "Risk score: %d (%s)\n", alert.RiskScore, alert.RiskLevel)
	fmt.Fprintf(b, "Rule score: %d\nModel score: %d\n", alert.RuleScore, alert.MLScore)
	fmt.Fprintf(b, "Queue: %s\n", alert.Queue)
	if tx != nil {
		fmt.Fprintf(b, "Amount: %s\nCategory: %s\nType: %s\nCustomer: %d\nMerchant: %d\nTime: %s\n",
			tx.Amount.StringFixed(2), tx.Category, tx.Type, tx.CustomerID, tx.MerchantID,
			tx.Timestamp.UTC().Format(time.RFC3339))
		if tx.OldBalanceOrig != nil && tx.NewBalanceOrig != nil {
			fmt.Fprintf(b, "Sender balance: %s -> %s\n",
				tx.OldBalanceOrig.StringFixed(2), tx.NewBalanceOrig.StringFixed(2))
		}
	}
	if len(alert.TriggeredRules) == 0 {
		b.WriteString("Triggered rules: none\n")
		return
	}
	b.WriteString("Triggered rules:\n")
	for _, r := range alert.TriggeredRules {
		fmt.Fprintf(b, "- %s (+%d): %s\n", r.Name, r.ScoreImpact, r.Description)
	}
}
