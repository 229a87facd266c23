package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ragfolio/internal/audit"
	"ragfolio/internal/extract"
	"ragfolio/internal/logging"
	"ragfolio/internal/models"
	"ragfolio/internal/util"
)

func uploaded(id string, typ models.DocumentType) models.Document {
	return models.Document{
		ID: id, TenantID: "tenant-a", FileName: id + "." + string(typ), FileType: typ,
		Locator: "tenant-a/" + id, Status: models.StatusUploaded,
	}
}

func longText() string {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString(strings.Repeat("lorem ipsum dolor ", 12))
		b.WriteString("\n\n")
	}
	return b.String()
}

type harness struct {
	store *memStore
	sink  *audit.Memory
	proc  *Processor
}

func newHarness(objects memObjects, embedders EmbedderSource, docs ...models.Document) harness {
	store := newMemStore(docs...)
	sink := &audit.Memory{}
	log := logging.Discard()
	proc := NewProcessor(NewMachine(store, log), store, objects, embedders,
		ChunkConfig{Options: util.ChunkOptions{Size: 50, Overlap: 10, Separator: "\n\n"}}, sink, log)
	return harness{store: store, sink: sink, proc: proc}
}

func TestProcessTextDocumentBecomesReady(t *testing.T) {
	h := newHarness(memObjects{"tenant-a/d1": []byte(longText())}, fixedEmbedders{}, uploaded("d1", models.DocumentTXT))

	res := h.proc.Process(context.Background(), "d1")
	require.Equal(t, models.StatusReady, res.Status)
	require.Empty(t, res.Error)
	require.Greater(t, res.ChunkCount, 1)

	doc := h.store.doc("d1")
	require.Equal(t, models.StatusReady, doc.Status)
	require.Equal(t, res.ChunkCount, doc.ChunkCount)
	require.NotNil(t, doc.ProcessedAt)
	require.Nil(t, doc.ErrorMessage)

	chunks := h.store.chunksOf("d1")
	require.Len(t, chunks, res.ChunkCount)
	for i, c := range chunks {
		require.Equal(t, i, c.ChunkIndex)
		require.Len(t, c.Embedding, 8)
		require.NotEmpty(t, c.ID)
	}
	require.Equal(t, []string{audit.ActionDocProcessStart, audit.ActionDocProcessComplete}, h.sink.Actions())
}

func TestProcessExtractionFailureMarksFailed(t *testing.T) {
	h := newHarness(memObjects{"tenant-a/d2": []byte("not really a pdf")}, fixedEmbedders{}, uploaded("d2", models.DocumentPDF))

	res := h.proc.Process(context.Background(), "d2")
	require.Equal(t, models.StatusFailed, res.Status)
	require.NotEmpty(t, res.Error)
	require.Zero(t, res.ChunkCount)

	doc := h.store.doc("d2")
	require.Equal(t, models.StatusFailed, doc.Status)
	require.Zero(t, doc.ChunkCount)
	require.NotNil(t, doc.ErrorMessage)
	require.Equal(t, res.Error, *doc.ErrorMessage)
	require.Empty(t, h.store.chunksOf("d2"))
	require.Equal(t, []string{audit.ActionDocProcessStart, audit.ActionDocProcessFail}, h.sink.Actions())
}

func TestProcessMissingCredentialMarksFailed(t *testing.T) {
	h := newHarness(memObjects{"tenant-a/d3": []byte("short text")}, fixedEmbedders{err: util.ErrNoCredential}, uploaded("d3", models.DocumentTXT))

	res := h.proc.Process(context.Background(), "d3")
	require.Equal(t, models.StatusFailed, res.Status)
	require.Contains(t, res.Error, "no active API key configured")
	require.Empty(t, h.store.chunksOf("d3"))
}

func TestProcessEmptyTextMarksFailed(t *testing.T) {
	h := newHarness(memObjects{"tenant-a/d4": []byte("   \n\n ")}, fixedEmbedders{}, uploaded("d4", models.DocumentTXT))
	res := h.proc.Process(context.Background(), "d4")
	require.Equal(t, models.StatusFailed, res.Status)
	require.Contains(t, res.Error, "no extractable text")
}

func TestProcessRefusesDocumentNotUploaded(t *testing.T) {
	doc := uploaded("d5", models.DocumentTXT)
	doc.Status = models.StatusReady
	doc.ChunkCount = 3
	h := newHarness(memObjects{}, fixedEmbedders{}, doc)

	res := h.proc.Process(context.Background(), "d5")
	require.Equal(t, models.StatusReady, res.Status)
	require.Equal(t, 3, res.ChunkCount)
	require.Contains(t, res.Error, util.ErrInvalidTransition.Error())
	require.Empty(t, h.sink.Actions())
}

func TestReprocessYieldsSameChunkCount(t *testing.T) {
	h := newHarness(memObjects{"tenant-a/d6": []byte(longText())}, fixedEmbedders{}, uploaded("d6", models.DocumentTXT))
	ctx := context.Background()

	first := h.proc.Process(ctx, "d6")
	require.Equal(t, models.StatusReady, first.Status)
	firstIDs := map[string]bool{}
	for _, c := range h.store.chunksOf("d6") {
		firstIDs[c.ID] = true
	}

	doc, err := h.proc.machine.Apply(ctx, "d6", Reset, Effects{})
	require.NoError(t, err)
	require.Equal(t, models.StatusUploaded, doc.Status)
	require.Zero(t, doc.ChunkCount)
	require.Nil(t, doc.ProcessedAt)
	require.Empty(t, h.store.chunksOf("d6"))

	second := h.proc.Process(ctx, "d6")
	require.Equal(t, models.StatusReady, second.Status)
	require.Equal(t, first.ChunkCount, second.ChunkCount)
	for _, c := range h.store.chunksOf("d6") {
		require.False(t, firstIDs[c.ID])
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		t    Transition
		from models.DocumentStatus
		ok   bool
	}{
		{Start, models.StatusUploaded, true},
		{Start, models.StatusProcessing, false},
		{Complete, models.StatusProcessing, true},
		{Complete, models.StatusUploaded, false},
		{Fail, models.StatusProcessing, true},
		{Fail, models.StatusReady, false},
		{Reset, models.StatusReady, true},
		{Reset, models.StatusFailed, true},
		{Reset, models.StatusUploaded, false},
		{Reset, models.StatusProcessing, false},
		{Transition("bogus"), models.StatusUploaded, false},
	}
	for _, c := range cases {
		require.Equal(t, c.ok, Allowed(c.t, c.from), "%s from %s", c.t, c.from)
	}
}

func TestResetFromUploadedIsInvalid(t *testing.T) {
	h := newHarness(memObjects{}, fixedEmbedders{}, uploaded("d7", models.DocumentTXT))
	_, err := h.proc.machine.Apply(context.Background(), "d7", Reset, Effects{})
	require.ErrorIs(t, err, util.ErrInvalidTransition)
}

func TestFailByIDOnlyTouchesProcessing(t *testing.T) {
	doc := uploaded("d8", models.DocumentTXT)
	doc.Status = models.StatusProcessing
	h := newHarness(memObjects{}, fixedEmbedders{}, doc, uploaded("d9", models.DocumentTXT))

	res := h.proc.FailByID(context.Background(), "d8", "worker lost")
	require.Equal(t, models.StatusFailed, res.Status)
	require.Equal(t, "worker lost", *h.store.doc("d8").ErrorMessage)

	res = h.proc.FailByID(context.Background(), "d9", "worker lost")
	require.Equal(t, models.StatusUploaded, res.Status)
}

func TestChunkAttributesPages(t *testing.T) {
	h := newHarness(memObjects{}, fixedEmbedders{}, uploaded("x", models.DocumentTXT))
	h.proc.chunking.Options = util.ChunkOptions{Size: 3, Separator: "\n\n"}
	res := extract.Result{
		Text:  "aaaaaaa\n\nbbbbbbb",
		Pages: []extract.PageSpan{{Page: 1, Start: 0, End: 7}, {Page: 2, Start: 9, End: 16}},
	}
	pieces := h.proc.chunk(res)
	require.NotEmpty(t, pieces)
	require.Equal(t, 1, *pieces[0].Page)
	require.Equal(t, 2, *pieces[len(pieces)-1].Page)
}

func TestSweeperFailsStaleProcessing(t *testing.T) {
	stale := uploaded("old", models.DocumentTXT)
	stale.Status = models.StatusProcessing
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	fresh := uploaded("new", models.DocumentTXT)
	fresh.Status = models.StatusProcessing
	fresh.UpdatedAt = time.Now()
	h := newHarness(memObjects{}, fixedEmbedders{}, stale, fresh)

	sw := NewSweeper(h.proc, h.store, 30*time.Minute, logging.Discard())
	n, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, models.StatusFailed, h.store.doc("old").Status)
	require.Equal(t, TimedOutMessage, *h.store.doc("old").ErrorMessage)
	require.Equal(t, models.StatusProcessing, h.store.doc("new").Status)
	require.Equal(t, []string{audit.ActionDocProcessFail}, h.sink.Actions())
}

type dispatchLog struct {
	ids []string
}

func (d *dispatchLog) Dispatch(_ context.Context, docID string) error {
	d.ids = append(d.ids, docID)
	return nil
}

func TestSweeperRequeuesStaleUploads(t *testing.T) {
	stuck := uploaded("stuck", models.DocumentTXT)
	stuck.UpdatedAt = time.Now().Add(-time.Hour)
	recent := uploaded("recent", models.DocumentTXT)
	recent.UpdatedAt = time.Now()
	h := newHarness(memObjects{}, fixedEmbedders{}, stuck, recent)

	sw := NewSweeper(h.proc, h.store, 30*time.Minute, logging.Discard())
	n, err := sw.Requeue(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	d := &dispatchLog{}
	n, err = sw.WithDispatcher(d).Requeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"stuck"}, d.ids)

	failed, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, failed)
	require.Equal(t, models.StatusUploaded, h.store.doc("stuck").Status)
}

func TestPoolDispatcherProcessesDocuments(t *testing.T) {
	objects := memObjects{}
	var docs []models.Document
	for _, id := range []string{"p1", "p2", "p3"} {
		objects["tenant-a/"+id] = []byte("document " + id + " body text")
		docs = append(docs, uploaded(id, models.DocumentTXT))
	}
	h := newHarness(objects, fixedEmbedders{}, docs...)

	d, err := NewPoolDispatcher(h.proc, 2, time.Minute, logging.Discard())
	require.NoError(t, err)
	for _, doc := range docs {
		require.NoError(t, d.Dispatch(context.Background(), doc.ID))
	}
	d.Close()
	for _, doc := range docs {
		got := h.store.doc(doc.ID)
		require.Equal(t, models.StatusReady, got.Status)
		require.Equal(t, 1, got.ChunkCount)
	}
}

func TestPoolDispatcherTimeoutRecordsFailure(t *testing.T) {
	h := newHarness(nil, fixedEmbedders{}, uploaded("slow", models.DocumentTXT))
	h.proc.objects = blockingObjects{}

	d, err := NewPoolDispatcher(h.proc, 1, 50*time.Millisecond, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, d.Dispatch(context.Background(), "slow"))
	d.Close()

	got := h.store.doc("slow")
	require.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	require.Contains(t, *got.ErrorMessage, context.DeadlineExceeded.Error())
	require.Equal(t, []string{audit.ActionDocProcessStart, audit.ActionDocProcessFail}, h.sink.Actions())
}
