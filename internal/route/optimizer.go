package route

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Location is one stop on a collection route.
type Location struct {
	Label string  `json:"label"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

// Optimizer proposes a reordering of stops as a permutation of indices.
// Purely advisory: callers keep the original order on any failure.
type Optimizer interface {
	Optimize(ctx context.Context, locations []Location) ([]int, error)
}

// HTTPClient delegates to an external route optimizer endpoint.
type HTTPClient struct {
	url    string
	client *http.Client
}

func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{url: url, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Optimize(ctx context.Context, locations []Location) ([]int, error) {
	body, err := json.Marshal(map[string]any{"locations": locations})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("route optimizer request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("route optimizer returned %d", resp.StatusCode)
	}

	var out struct {
		Order []int `json:"order"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("route optimizer response: %w", err)
	}
	return out.Order, nil
}

// NearestNeighbor is the local optimizer: greedy closest-next from the first
// stop. Good enough for a handful of pickups on one trip.
type NearestNeighbor struct{}

func (NearestNeighbor) Optimize(_ context.Context, locations []Location) ([]int, error) {
	n := len(locations)
	order := make([]int, 0, n)
	if n == 0 {
		return order, nil
	}

	visited := make([]bool, n)
	current := 0
	visited[0] = true
	order = append(order, 0)

	for len(order) < n {
		best, bestDist := -1, 0.0
		for i := 0; i < n; i++ {
			if visited[i] {
				continue
			}
			d := sqDist(locations[current], locations[i])
			if best == -1 || d < bestDist {
				best, bestDist = i, d
			}
		}
		visited[best] = true
		order = append(order, best)
		current = best
	}
	return order, nil
}

func sqDist(a, b Location) float64 {
	dx, dy := a.Lat-b.Lat, a.Lng-b.Lng
	return dx*dx + dy*dy
}

// Reorder applies the optimizer to locations. Any failure, including an
// invalid permutation, leaves the original order untouched.
func Reorder(ctx context.Context, opt Optimizer, log *zap.Logger, locations []Location) []Location {
	if opt == nil || len(locations) < 2 {
		return locations
	}
	order, err := opt.Optimize(ctx, locations)
	if err != nil {
		log.Warn("route optimizer failed, keeping original order", zap.Error(err))
		return locations
	}
	if !validPermutation(order, len(locations)) {
		log.Warn("route optimizer returned invalid order, keeping original",
			zap.Int("stops", len(locations)), zap.Int("returned", len(order)))
		return locations
	}
	out := make([]Location, len(locations))
	for pos, idx := range order {
		out[pos] = locations[idx]
	}
	return out
}

func validPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}
