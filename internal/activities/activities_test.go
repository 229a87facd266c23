package activities

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"ragfolio/internal/audit"
	"ragfolio/internal/embedding"
	"ragfolio/internal/ingest"
	"ragfolio/internal/logging"
	"ragfolio/internal/models"
	"ragfolio/internal/providers"
	"ragfolio/internal/storage"
	"ragfolio/internal/util"
)

type docStore struct {
	mu   sync.Mutex
	docs map[string]models.Document
}

func (s *docStore) ApplyTransition(_ context.Context, docID string, from []models.DocumentStatus, to models.DocumentStatus, eff storage.TransitionEffects) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		return models.Document{}, util.ErrNotFound
	}
	if !slices.Contains(from, d.Status) {
		return models.Document{}, util.ErrInvalidTransition
	}
	d.Status = to
	d.ErrorMessage = eff.ErrorMessage
	if eff.InsertChunks {
		d.ChunkCount = len(eff.Chunks)
	}
	s.docs[docID] = d
	return d, nil
}

func (s *docStore) Get(_ context.Context, _ string, docID string) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		return models.Document{}, util.ErrNotFound
	}
	return d, nil
}

func (s *docStore) ListStale(context.Context, models.DocumentStatus, time.Time, int) ([]models.Document, error) {
	return nil, nil
}

type objects map[string][]byte

func (o objects) Read(_ context.Context, locator string) ([]byte, error) {
	return o[locator], nil
}

type mockEmbedders struct{}

func (mockEmbedders) ForTenant(context.Context, string) (*embedding.Embedder, error) {
	return embedding.New(providers.NewMockProvider(4), 10, 4), nil
}

func newActivities(docs ...models.Document) (*Activities, *docStore) {
	store := &docStore{docs: map[string]models.Document{}}
	for _, d := range docs {
		store.docs[d.ID] = d
	}
	log := logging.Discard()
	proc := ingest.NewProcessor(ingest.NewMachine(store, log), store,
		objects{"loc": []byte("a small document")}, mockEmbedders{},
		ingest.ChunkConfig{Options: util.DefaultChunkOptions()}, audit.Nop{}, log)
	return New(proc, store), store
}

func TestBeginAndRunIngestActivities(t *testing.T) {
	a, store := newActivities(models.Document{ID: "d1", TenantID: "t", FileType: models.DocumentTXT, Locator: "loc", Status: models.StatusUploaded})

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a.BeginIngestActivity)
	env.RegisterActivity(a.RunIngestActivity)

	val, err := env.ExecuteActivity(a.BeginIngestActivity, BeginIngestInput{DocumentID: "d1"})
	require.NoError(t, err)
	var begin BeginIngestOutput
	require.NoError(t, val.Get(&begin))
	require.True(t, begin.Started)
	require.Equal(t, models.StatusProcessing, begin.Status)

	val, err = env.ExecuteActivity(a.RunIngestActivity, RunIngestInput{DocumentID: "d1"})
	require.NoError(t, err)
	var res ingest.Result
	require.NoError(t, val.Get(&res))
	require.Equal(t, models.StatusReady, res.Status)
	require.Equal(t, 1, res.ChunkCount)
	require.Equal(t, models.StatusReady, store.docs["d1"].Status)
}

func TestBeginIngestSkipsDocumentNotUploaded(t *testing.T) {
	a, _ := newActivities(models.Document{ID: "d2", TenantID: "t", Status: models.StatusReady})

	out, err := a.BeginIngestActivity(context.Background(), BeginIngestInput{DocumentID: "d2"})
	require.NoError(t, err)
	require.False(t, out.Started)
	require.Equal(t, models.StatusReady, out.Status)
	require.NotEmpty(t, out.Reason)
}

func TestFailIngestActivity(t *testing.T) {
	a, store := newActivities(models.Document{ID: "d3", TenantID: "t", Status: models.StatusProcessing})

	res, err := a.FailIngestActivity(context.Background(), FailIngestInput{DocumentID: "d3", Reason: "activity timed out"})
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, res.Status)
	require.Equal(t, "activity timed out", *store.docs["d3"].ErrorMessage)
}
