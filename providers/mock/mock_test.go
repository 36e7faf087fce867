package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/blueberrycongee/unillm/pkg/errors"
	"github.com/blueberrycongee/unillm/pkg/provider"
	"github.com/blueberrycongee/unillm/pkg/types"
)

func TestAdapter_Script(t *testing.T) {
	a := New(WithResponses(
		Response{Err: llmerrors.NewServiceUnavailableError("mock", "m", "down")},
		Response{Text: "4"},
	))
	ctx := context.Background()
	in := types.NewInput("2+2?", "")

	_, err := a.Submit(ctx, &in, nil)
	assert.Equal(t, llmerrors.KindBackendUnavailable, llmerrors.KindOf(err))

	out, err := a.Submit(ctx, &in, types.Params{"temperature": 0.1})
	require.NoError(t, err)
	assert.Equal(t, "4", out.Text)
	assert.Equal(t, ProviderName, out.Backend)

	out, err = a.Submit(ctx, &in, nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: 2+2?", out.Text, "drained queue echoes")

	assert.Equal(t, 3, a.Calls())
	reqs := a.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, 0.1, reqs[1].Params["temperature"])
}

func TestAdapter_Handler(t *testing.T) {
	a := New(WithHandler(func(call int, in *types.InferenceInput) Response {
		return Response{Text: in.LastUserContent() + "#" + string(rune('0'+call))}
	}))
	in := types.NewInput("q", "")
	out, err := a.Submit(context.Background(), &in, nil)
	require.NoError(t, err)
	assert.Equal(t, "q#1", out.Text)
}

func TestAdapter_DelayHonorsDeadline(t *testing.T) {
	a := New(WithResponses(Response{Text: "late", Delay: time.Second}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	in := types.NewInput("q", "")
	_, err := a.Submit(ctx, &in, nil)
	assert.Equal(t, llmerrors.KindTimeout, llmerrors.KindOf(err))
}

func TestAdapter_Close(t *testing.T) {
	a, err := NewFromConfig(provider.Config{Name: "dry", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "dry", a.Name())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	in := types.NewInput("q", "")
	_, err = a.Submit(context.Background(), &in, nil)
	assert.Equal(t, llmerrors.KindBackendUnavailable, llmerrors.KindOf(err))
}
