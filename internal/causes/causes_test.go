package causes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ecocash/internal/ledger"
	"ecocash/internal/model"
	"ecocash/internal/store"
)

type nopBus struct{}

func (nopBus) Publish(string, []byte) error { return nil }

func newTestEngine(t *testing.T) (*Engine, *ledger.Ledger) {
	t.Helper()
	m, err := store.NewMirror(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	log := zap.NewNop()
	led := ledger.New(m, nopBus{}, log)
	return New(m, led, log), led
}

func TestCreateCause(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	cause, err := eng.CreateCause(ctx, "river cleanup", 500)
	require.NoError(t, err)
	assert.NotEmpty(t, cause.ID)
	assert.Equal(t, int64(0), cause.JackpotPoints)

	got, err := eng.Cause(ctx, cause.ID)
	require.NoError(t, err)
	assert.Equal(t, "river cleanup", got.Title)
	assert.Equal(t, int64(500), got.TargetPoints)
}

func TestCreateCauseValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.CreateCause(ctx, "", 500)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = eng.CreateCause(ctx, "x", 0)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestVote(t *testing.T) {
	eng, led := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, led.CreateAccount(ctx, model.Account{ID: "voter-1", Points: 120}))

	cause, err := eng.CreateCause(ctx, "river cleanup", 500)
	require.NoError(t, err)

	require.NoError(t, eng.Vote(ctx, "voter-1", cause.ID, 50))

	voter, err := led.Account(ctx, "voter-1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), voter.Points)

	got, err := eng.Cause(ctx, cause.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.JackpotPoints)
	assert.Equal(t, int64(1), got.VotersCount)
}

func TestVoteAccumulates(t *testing.T) {
	eng, led := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, led.CreateAccount(ctx, model.Account{ID: "voter-1", Points: 100}))
	require.NoError(t, led.CreateAccount(ctx, model.Account{ID: "voter-2", Points: 100}))

	cause, err := eng.CreateCause(ctx, "river cleanup", 500)
	require.NoError(t, err)

	require.NoError(t, eng.Vote(ctx, "voter-1", cause.ID, 30))
	require.NoError(t, eng.Vote(ctx, "voter-2", cause.ID, 20))

	got, err := eng.Cause(ctx, cause.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.JackpotPoints)
	assert.Equal(t, int64(2), got.VotersCount)
}

func TestVoteInsufficientPoints(t *testing.T) {
	eng, led := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, led.CreateAccount(ctx, model.Account{ID: "voter-1", Points: 40}))

	cause, err := eng.CreateCause(ctx, "river cleanup", 500)
	require.NoError(t, err)

	err = eng.Vote(ctx, "voter-1", cause.ID, 50)
	assert.ErrorIs(t, err, model.ErrInsufficientPoints)

	voter, getErr := led.Account(ctx, "voter-1")
	require.NoError(t, getErr)
	assert.Equal(t, int64(40), voter.Points, "a refused vote leaves the voter untouched")

	got, getErr := eng.Cause(ctx, cause.ID)
	require.NoError(t, getErr)
	assert.Equal(t, int64(0), got.JackpotPoints, "a refused vote leaves the jackpot untouched")
	assert.Equal(t, int64(0), got.VotersCount)
}

func TestVoteUnknownCause(t *testing.T) {
	eng, led := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, led.CreateAccount(ctx, model.Account{ID: "voter-1", Points: 100}))

	err := eng.Vote(ctx, "voter-1", "CAU-missing", 10)
	assert.ErrorIs(t, err, model.ErrEntityNotFound)
}

func TestVoteValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	err := eng.Vote(context.Background(), "voter-1", "CAU-x", 0)
	assert.ErrorIs(t, err, model.ErrValidation)
}
