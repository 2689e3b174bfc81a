package route

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNearestNeighbor(t *testing.T) {
	locs := []Location{
		{Label: "depot", Lat: 0, Lng: 0},
		{Label: "far", Lat: 5, Lng: 5},
		{Label: "near", Lat: 1, Lng: 1},
	}
	order, err := NearestNeighbor{}.Optimize(context.Background(), locs)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 1}, order)
}

func TestNearestNeighborShortInputs(t *testing.T) {
	order, err := NearestNeighbor{}.Optimize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, order)

	order, err = NearestNeighbor{}.Optimize(context.Background(), []Location{{Label: "one"}})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, order)
}

type failingOptimizer struct{}

func (failingOptimizer) Optimize(context.Context, []Location) ([]int, error) {
	return nil, errors.New("optimizer down")
}

type fixedOptimizer struct{ order []int }

func (f fixedOptimizer) Optimize(context.Context, []Location) ([]int, error) {
	return f.order, nil
}

func TestReorderKeepsOrderOnFailure(t *testing.T) {
	locs := []Location{{Label: "a"}, {Label: "b"}, {Label: "c"}}
	out := Reorder(context.Background(), failingOptimizer{}, zap.NewNop(), locs)
	assert.Equal(t, locs, out, "an optimizer failure keeps the stored order")
}

func TestReorderRejectsInvalidPermutation(t *testing.T) {
	locs := []Location{{Label: "a"}, {Label: "b"}, {Label: "c"}}

	out := Reorder(context.Background(), fixedOptimizer{order: []int{0, 0, 1}}, zap.NewNop(), locs)
	assert.Equal(t, locs, out)

	out = Reorder(context.Background(), fixedOptimizer{order: []int{0, 1}}, zap.NewNop(), locs)
	assert.Equal(t, locs, out)

	out = Reorder(context.Background(), fixedOptimizer{order: []int{0, 1, 3}}, zap.NewNop(), locs)
	assert.Equal(t, locs, out)
}

func TestReorderAppliesValidPermutation(t *testing.T) {
	locs := []Location{{Label: "a"}, {Label: "b"}, {Label: "c"}}
	out := Reorder(context.Background(), fixedOptimizer{order: []int{2, 0, 1}}, zap.NewNop(), locs)
	require.Len(t, out, 3)
	assert.Equal(t, "c", out[0].Label)
	assert.Equal(t, "a", out[1].Label)
	assert.Equal(t, "b", out[2].Label)
}

func TestReorderNilOptimizer(t *testing.T) {
	locs := []Location{{Label: "a"}, {Label: "b"}}
	out := Reorder(context.Background(), nil, zap.NewNop(), locs)
	assert.Equal(t, locs, out)
}

func TestHTTPClientOptimize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order": [1, 0]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	order, err := c.Optimize(context.Background(), []Location{{Label: "a"}, {Label: "b"}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, order)
}

func TestHTTPClientNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	_, err := c.Optimize(context.Background(), []Location{{Label: "a"}})
	assert.Error(t, err)
}
