package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/eloc-provisioning/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGuard(t *testing.T) *interruptGuard {
	g := newInterruptGuard(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(g.cancel)
	return g
}

func TestInterruptGuard_AbortsBeforeCommit(t *testing.T) {
	g := testGuard(t)

	g.notify()
	assert.ErrorIs(t, g.ctx.Err(), context.Canceled)
	assert.False(t, g.interrupted.Load())

	err := g.Commit()
	require.ErrorIs(t, err, interfaces.ErrInterrupted)
}

func TestInterruptGuard_StopsAtStepBoundaryAfterCommit(t *testing.T) {
	g := testGuard(t)
	require.NoError(t, g.Commit())

	g.notify()
	assert.True(t, g.interrupted.Load())
	assert.NoError(t, g.ctx.Err())

	g.notify()
	assert.ErrorIs(t, g.ctx.Err(), context.Canceled)
}

func TestInterruptGuard_TransactionOutlivesCancel(t *testing.T) {
	g := testGuard(t)
	require.NoError(t, g.Commit())
	txCtx := context.WithoutCancel(g.ctx)

	g.notify()
	g.notify()
	require.Error(t, g.ctx.Err())
	assert.NoError(t, txCtx.Err())
}
