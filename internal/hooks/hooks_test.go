package hooks_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdnscloud/dhcp4-slave/internal/hooks"
)

func discardLogger() (l *slog.Logger) {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_Run_Order(t *testing.T) {
	d := hooks.NewDispatcher(discardLogger())

	var order []int
	d.Register(hooks.PointPkt4Receive, func(h *hooks.Handle) (hooks.Status, error) {
		order = append(order, 1)
		return hooks.StatusContinue, nil
	})
	d.Register(hooks.PointPkt4Receive, func(h *hooks.Handle) (hooks.Status, error) {
		order = append(order, 2)
		return hooks.StatusContinue, nil
	})

	h := hooks.NewHandle(hooks.PointPkt4Receive, map[string]any{"query4": "pkt"})
	status := d.Run(context.Background(), hooks.PointPkt4Receive, h)

	assert.Equal(t, hooks.StatusContinue, status)
	assert.Equal(t, []int{1, 2}, order)
}

func TestDispatcher_Run_SkipWins(t *testing.T) {
	d := hooks.NewDispatcher(discardLogger())

	d.Register(hooks.PointPkt4Send, func(h *hooks.Handle) (hooks.Status, error) {
		return hooks.StatusContinue, nil
	})
	d.Register(hooks.PointPkt4Send, func(h *hooks.Handle) (hooks.Status, error) {
		return hooks.StatusSkip, nil
	})

	h := hooks.NewHandle(hooks.PointPkt4Send, nil)
	status := d.Run(context.Background(), hooks.PointPkt4Send, h)

	assert.Equal(t, hooks.StatusSkip, status)
}

func TestDispatcher_Run_ErrorTreatedAsContinue(t *testing.T) {
	d := hooks.NewDispatcher(discardLogger())

	called := false
	d.Register(hooks.PointPkt4Receive, func(h *hooks.Handle) (hooks.Status, error) {
		return hooks.StatusContinue, errors.New("boom")
	})
	d.Register(hooks.PointPkt4Receive, func(h *hooks.Handle) (hooks.Status, error) {
		called = true
		return hooks.StatusContinue, nil
	})

	status := d.Run(context.Background(), hooks.PointPkt4Receive, hooks.NewHandle(hooks.PointPkt4Receive, nil))

	assert.Equal(t, hooks.StatusContinue, status)
	assert.True(t, called)
}

func TestHandle_GetSet(t *testing.T) {
	h := hooks.NewHandle(hooks.PointPkt4Receive, map[string]any{"query4": "pkt"})

	v, ok := h.Get("query4")
	require.True(t, ok)
	assert.Equal(t, "pkt", v)

	h.Set("response4", "ack")
	v, ok = h.Get("response4")
	require.True(t, ok)
	assert.Equal(t, "ack", v)

	_, ok = h.Get("missing")
	assert.False(t, ok)
}

func TestDispatcher_LoadPlugin_MissingFile(t *testing.T) {
	d := hooks.NewDispatcher(discardLogger())
	err := d.LoadPlugin("/nonexistent/plugin.so", "")
	assert.Error(t, err)
}
