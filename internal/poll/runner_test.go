package poll

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/fichier-sync/internal/config"
)

func TestRunSafe_RecoversPanic(t *testing.T) {
	t.Parallel()

	report, err := runSafe(context.Background(), func(context.Context) (*CycleReport, error) {
		panic("boom")
	})

	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "panic in sync cycle: boom")
}

func TestRunSafe_PassesThrough(t *testing.T) {
	t.Parallel()

	want := &CycleReport{CycleID: "x"}
	report, err := runSafe(context.Background(), func(context.Context) (*CycleReport, error) {
		return want, nil
	})

	require.NoError(t, err)
	assert.Same(t, want, report)

	sentinel := errors.New("failed")
	_, err = runSafe(context.Background(), func(context.Context) (*CycleReport, error) {
		return nil, sentinel
	})
	require.ErrorIs(t, err, sentinel)
}

func TestOnce_LoginPanicDoesNotEscape(t *testing.T) {
	t.Parallel()

	holder := config.NewHolder(config.DefaultConfig(), "")
	login := func(context.Context, *config.Config) (Remote, error) {
		panic("nil session")
	}

	l := NewLoop(holder, login, nil, testLogger())

	_, err := l.Once(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil session")
}
