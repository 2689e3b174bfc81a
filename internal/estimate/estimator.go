package estimate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ecocash/internal/model"
)

// Estimate is a weight/price guess for a described quantity of material.
type Estimate struct {
	Weight        float64 `json:"weight"`
	Price         float64 `json:"price"`
	Justification string  `json:"justification"`
}

// Estimator turns a free-text description plus category into an estimate.
// The generative implementation lives outside this process; the core only
// ever sees this interface and must keep working when it is unreachable.
type Estimator interface {
	Estimate(ctx context.Context, description, category string) (Estimate, error)
}

// HTTPClient calls an external estimator endpoint. The request times out
// with the context or the client timeout, whichever comes first.
type HTTPClient struct {
	url    string
	client *http.Client
}

func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{url: url, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Estimate(ctx context.Context, description, category string) (Estimate, error) {
	if description == "" {
		return Estimate{}, fmt.Errorf("%w: description is required", model.ErrValidation)
	}

	body, err := json.Marshal(map[string]string{
		"description": description,
		"category":    category,
	})
	if err != nil {
		return Estimate{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Estimate{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Estimate{}, fmt.Errorf("estimator request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Estimate{}, fmt.Errorf("estimator returned %d", resp.StatusCode)
	}

	var out Estimate
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Estimate{}, fmt.Errorf("estimator response: %w", err)
	}
	return out, nil
}

var categoryUnitPrice = map[string]float64{
	"paper":       0.8,
	"plastic":     1.2,
	"glass":       0.6,
	"metal":       2.4,
	"electronics": 4.0,
	"organic":     0.4,
}

// Fallback is the deterministic estimate used when the generative estimator
// is unavailable. It is a pure function of the inputs: the weight is derived
// from the description length, the price from the category's unit value.
func Fallback(description, category string) Estimate {
	weight := 0.5 + 0.25*float64(len(description)%24)
	unit, ok := categoryUnitPrice[category]
	if !ok {
		unit = 1.0
	}
	return Estimate{
		Weight: weight,
		Price:  weight * unit,
		Justification: fmt.Sprintf(
			"fallback estimate from a %d-character description in category %q", len(description), category),
	}
}

type withFallback struct {
	inner Estimator
	log   *zap.Logger
}

// WithFallback wraps an estimator so any failure degrades to the
// deterministic fallback instead of propagating. A nil inner estimator
// always falls back. Empty descriptions are still rejected.
func WithFallback(inner Estimator, log *zap.Logger) Estimator {
	return &withFallback{inner: inner, log: log}
}

func (w *withFallback) Estimate(ctx context.Context, description, category string) (Estimate, error) {
	if description == "" {
		return Estimate{}, fmt.Errorf("%w: description is required", model.ErrValidation)
	}
	if w.inner == nil {
		return Fallback(description, category), nil
	}
	est, err := w.inner.Estimate(ctx, description, category)
	if err != nil {
		w.log.Warn("estimator unavailable, using fallback", zap.Error(err))
		return Fallback(description, category), nil
	}
	return est, nil
}
