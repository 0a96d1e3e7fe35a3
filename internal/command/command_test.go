package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "dynatheme/pkg/logx"
)

func TestRegisterExecute(t *testing.T) {
	r := NewRegistry(logx.Nop())
	calls := 0
	remove, err := r.Register(Command{ID: ApplyDayTheme, Title: "Apply day theme", Handle: func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	}})
	require.NoError(t, err)

	res, err := r.Execute(context.Background(), ApplyDayTheme)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []Info{{ID: ApplyDayTheme, Title: "Apply day theme"}}, r.List())

	remove()
	remove()
	_, err = r.Execute(context.Background(), ApplyDayTheme)
	require.ErrorIs(t, err, ErrUnknown)
	assert.Empty(t, r.List())
}

func TestRegisterRejectsDuplicatesAndBlanks(t *testing.T) {
	r := NewRegistry(logx.Nop())
	h := func(context.Context) (any, error) { return nil, nil }
	_, err := r.Register(Command{ID: OpenUI, Handle: h})
	require.NoError(t, err)

	_, err = r.Register(Command{ID: " " + OpenUI + " ", Handle: h})
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = r.Register(Command{ID: "  ", Handle: h})
	require.Error(t, err)
	_, err = r.Register(Command{ID: "x"})
	require.Error(t, err)
}

func TestExecuteRecoversPanics(t *testing.T) {
	r := NewRegistry(logx.Nop())
	_, err := r.Register(Command{ID: "boom", Handle: func(context.Context) (any, error) { panic("bad") }})
	require.NoError(t, err)

	_, err = r.Execute(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: bad")
}

func TestTimeoutMiddleware(t *testing.T) {
	r := NewRegistry(logx.Nop())
	_, err := r.Register(Command{ID: "slow", Timeout: 20 * time.Millisecond, Handle: func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	require.NoError(t, err)

	_, err = r.Execute(context.Background(), "slow")
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(_ string, next HandlerFunc) HandlerFunc {
			return func(ctx context.Context) (any, error) {
				order = append(order, name)
				return next(ctx)
			}
		}
	}
	h := Chain("x", func(context.Context) (any, error) { order = append(order, "h"); return nil, nil }, mw("a"), mw("b"))
	_, _ = h(context.Background())
	assert.Equal(t, []string{"a", "b", "h"}, order)
}
