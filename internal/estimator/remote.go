package estimator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/opensource-finance/harrier/internal/domain"
)

// PredictRequest is the body sent to a remote inference service.
type PredictRequest struct {
	TransactionID string              `json:"transactionId"`
	Transaction   *domain.Transaction `json:"transaction"`
	Features      map[string]any      `json:"features"`
}

// PredictResponse is the inference service's answer.
type PredictResponse struct {
	Probability *float64 `json:"probability"`
	Model       string   `json:"model,omitempty"`
}

// Remote calls an HTTP inference service. It does not retry: the caller's
// deadline bounds the whole call and expiry counts as "model unavailable".
type Remote struct {
	httpClient *resty.Client
}

// NewRemote creates a client for the inference service at baseURL.
func NewRemote(baseURL string, timeout time.Duration) *Remote {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Remote{httpClient: client}
}

// Predict implements Estimator.
func (r *Remote) Predict(ctx context.Context, tx *domain.Transaction) (float64, error) {
	var out PredictResponse
	resp, err := r.httpClient.R().
		SetContext(ctx).
		SetBody(PredictRequest{
			TransactionID: tx.ExternalID,
			Transaction:   tx,
			Features:      rawFeatures(tx),
		}).
		SetResult(&out).
		Post("/predict")
	if err != nil {
		return 0, fmt.Errorf("inference call failed: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("inference service returned %d", resp.StatusCode())
	}
	if out.Probability == nil {
		return 0, fmt.Errorf("inference response has no probability")
	}
	return *out.Probability, nil
}
