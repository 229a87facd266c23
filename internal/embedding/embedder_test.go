package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ragfolio/internal/providers"
	"ragfolio/internal/util"

	"github.com/stretchr/testify/require"
)

type recordingProvider struct {
	calls    [][]string
	failOn   int
	short    bool
	wrongDim bool
}

func (p *recordingProvider) Embed(_ context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	p.calls = append(p.calls, append([]string(nil), req.Inputs...))
	if p.failOn > 0 && len(p.calls) == p.failOn {
		return nil, providers.ProviderInfo{}, errors.New("429 rate limited")
	}
	out := make([][]float32, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		dim := req.Dimension
		if p.wrongDim {
			dim++
		}
		v := make([]float32, dim)
		fmt.Sscanf(in, "t%f", &v[0])
		out = append(out, v)
	}
	if p.short {
		out = out[:len(out)-1]
	}
	return out, providers.ProviderInfo{Name: "fake"}, nil
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("t%d", i)
	}
	return out
}

func TestEmbedBatchSplitsAndPreservesOrder(t *testing.T) {
	p := &recordingProvider{}
	e := New(p, 3, 2)
	vecs, err := e.EmbedBatch(context.Background(), texts(7))
	require.NoError(t, err)
	require.Len(t, vecs, 7)
	require.Len(t, p.calls, 3)
	require.Equal(t, []string{"t0", "t1", "t2"}, p.calls[0])
	require.Equal(t, []string{"t6"}, p.calls[2])
	for i, v := range vecs {
		require.Equal(t, float32(i), v[0])
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	p := &recordingProvider{}
	vecs, err := New(p, 10, 2).EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, vecs)
	require.Empty(t, p.calls)
}

func TestEmbedBatchFailureAbortsWholeCall(t *testing.T) {
	p := &recordingProvider{failOn: 2}
	vecs, err := New(p, 2, 2).EmbedBatch(context.Background(), texts(6))
	require.Nil(t, vecs)
	require.ErrorIs(t, err, util.ErrProvider)
	require.Len(t, p.calls, 2)
}

func TestEmbedRejectsCountMismatch(t *testing.T) {
	_, err := New(&recordingProvider{short: true}, 5, 2).EmbedBatch(context.Background(), texts(3))
	require.ErrorIs(t, err, util.ErrProvider)
}

func TestEmbedRejectsWrongDimension(t *testing.T) {
	_, err := New(&recordingProvider{wrongDim: true}, 5, 2).Embed(context.Background(), "t1")
	require.ErrorIs(t, err, util.ErrProvider)
}

func TestEmbedWithoutProviderIsNoCredential(t *testing.T) {
	_, err := New(nil, 5, 2).Embed(context.Background(), "x")
	require.ErrorIs(t, err, util.ErrNoCredential)
}

func TestEmbedSingle(t *testing.T) {
	v, err := New(&recordingProvider{}, 5, 3, WithRateLimit(1000)).Embed(context.Background(), "t4")
	require.NoError(t, err)
	require.Equal(t, []float32{4, 0, 0}, v)
}

type fakeSource struct{ err error }

func (f fakeSource) ForTenant(context.Context, string) (providers.Bundle, error) {
	if f.err != nil {
		return providers.Bundle{}, f.err
	}
	return providers.Bundle{Embed: providers.NewMockProvider(4)}, nil
}

func TestResolverBuildsTenantEmbedder(t *testing.T) {
	e, err := NewResolver(fakeSource{}, 10, 4, 0).ForTenant(context.Background(), "t1")
	require.NoError(t, err)
	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, v, 4)

	_, err = NewResolver(fakeSource{err: util.ErrNoCredential}, 10, 4, 0).ForTenant(context.Background(), "t1")
	require.ErrorIs(t, err, util.ErrNoCredential)
}
