package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/askmypdf/backend/internal/models"
	"github.com/askmypdf/backend/internal/rag"
	"github.com/askmypdf/backend/internal/splitter"
	"github.com/askmypdf/backend/internal/testutil"
	"github.com/askmypdf/backend/internal/vectorstore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	files    *testutil.MockStorage
	loader   *testutil.FakeLoader
	embedder *testutil.FakeEmbedder
	store    *memory.Store
	chat     *testutil.FakeCompleter
	manager  *Manager
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	sp, err := splitter.NewRecursive(200, 20)
	require.NoError(t, err)
	prompt, err := rag.NewPrompt("Context:\n{{.Context}}")
	require.NoError(t, err)

	h := &harness{
		files: testutil.NewMockStorage(),
		loader: &testutil.FakeLoader{Pages: testutil.TextPages(
			"Shipping takes five business days.",
			"Refunds are issued within thirty days.",
			"Warranty claims go to support by email.",
		)},
		embedder: testutil.NewFakeEmbedder(),
		store:    memory.New(),
		chat:     &testutil.FakeCompleter{Reply: "Refunds take thirty days, see page 2."},
	}
	pipeline := rag.NewPipeline(h.loader, sp, h.embedder, h.store, h.chat, prompt, rag.Options{TopK: 2})
	if opts.FreeQuestionLimit == 0 {
		opts.FreeQuestionLimit = 3
	}
	h.manager = NewManager(h.files, pipeline, opts)
	t.Cleanup(h.manager.Close)
	return h
}

func (h *harness) upload(name string) *models.FileInfo {
	return h.files.AddFile("file-"+name, name, []byte("%PDF-1.4"))
}

func waitForStatus(t *testing.T, m *Manager, id string, want models.SessionStatus) *models.ChatSession {
	t.Helper()
	var s *models.ChatSession
	require.Eventually(t, func() bool {
		var ok bool
		s, ok = m.Get(id)
		return ok && s.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return s
}

// readySession returns a session whose document has been indexed.
func (h *harness) readySession(t *testing.T) string {
	t.Helper()
	s := h.manager.Create()
	_, err := h.manager.AttachDocument(s.ID, h.upload("policy.pdf"))
	require.NoError(t, err)
	_, err = h.manager.Prepare(s.ID)
	require.NoError(t, err)
	waitForStatus(t, h.manager, s.ID, models.SessionStatusReady)
	return s.ID
}

func TestManager_CreateAndGet(t *testing.T) {
	h := newHarness(t, Options{})

	s := h.manager.Create()
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, models.SessionStatusEmpty, s.Status)
	assert.Equal(t, 3, s.FreeQuestionsLeft)
	assert.Empty(t, s.Messages)

	got, ok := h.manager.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, s.ID, got.ID)

	_, ok = h.manager.Get("missing")
	assert.False(t, ok)
}

func TestManager_PrepareIndexesDocument(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.readySession(t)

	s, _ := h.manager.Get(id)
	assert.Equal(t, 100.0, s.Progress)
	assert.Equal(t, rag.StageDone, s.Stage)
	assert.Equal(t, 3, s.PageCount)
	assert.Equal(t, 3, s.ChunkCount)
	assert.NotEmpty(t, s.Collection)
	assert.Equal(t, 1, h.store.Collections())
}

func TestManager_PrepareIsIdempotentOnceReady(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.readySession(t)
	before, _ := h.manager.Get(id)
	calls := h.embedder.Calls()

	after, err := h.manager.Prepare(id)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusReady, after.Status)
	assert.Equal(t, before.Collection, after.Collection)
	assert.Equal(t, calls, h.embedder.Calls())
}

func TestManager_PrepareErrors(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.manager.Prepare("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	s := h.manager.Create()
	_, err = h.manager.Prepare(s.ID)
	assert.ErrorIs(t, err, ErrNoDocument)
}

func TestManager_IndexFailureSetsError(t *testing.T) {
	h := newHarness(t, Options{})
	h.loader.Err = errors.New("no extractable text")

	s := h.manager.Create()
	_, err := h.manager.AttachDocument(s.ID, h.upload("scan.pdf"))
	require.NoError(t, err)
	_, err = h.manager.Prepare(s.ID)
	require.NoError(t, err)

	failed := waitForStatus(t, h.manager, s.ID, models.SessionStatusError)
	assert.Contains(t, failed.Error, "no extractable text")
	assert.Empty(t, failed.Collection)

	// a retry after the cause is fixed succeeds
	h.loader.Err = nil
	_, err = h.manager.Prepare(s.ID)
	require.NoError(t, err)
	waitForStatus(t, h.manager, s.ID, models.SessionStatusReady)
}

func TestManager_AskBeforeReady(t *testing.T) {
	h := newHarness(t, Options{})
	gate := make(chan struct{})
	h.loader.Gate = gate

	s := h.manager.Create()
	ctx := context.Background()

	_, err := h.manager.Ask(ctx, s.ID, "hello")
	assert.ErrorIs(t, err, ErrNoDocument)

	_, err = h.manager.AttachDocument(s.ID, h.upload("policy.pdf"))
	require.NoError(t, err)
	_, err = h.manager.Ask(ctx, s.ID, "hello")
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = h.manager.Prepare(s.ID)
	require.NoError(t, err)
	_, err = h.manager.Ask(ctx, s.ID, "hello")
	assert.ErrorIs(t, err, ErrIndexing)

	close(gate)
	waitForStatus(t, h.manager, s.ID, models.SessionStatusReady)

	msgs, _ := h.manager.Messages(s.ID)
	assert.Empty(t, msgs, "rejected questions are not recorded")
}

func TestManager_Ask(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.readySession(t)

	res, err := h.manager.Ask(context.Background(), id, "  how long do refunds take?  ")
	require.NoError(t, err)
	require.NotNil(t, res.Reply)
	assert.Empty(t, res.Warning)
	assert.Equal(t, models.RoleAssistant, res.Reply.Role)
	assert.Equal(t, "Refunds take thirty days, see page 2.", res.Reply.Content)
	require.NotEmpty(t, res.Reply.Sources)
	assert.Equal(t, "2", res.Reply.Sources[0].PageLabel)
	assert.Equal(t, "policy.pdf", res.Reply.Sources[0].Source)

	msgs := res.Session.Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "how long do refunds take?", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, 1, res.Session.QuestionsAsked)
	assert.Equal(t, 2, res.Session.FreeQuestionsLeft)

	// server key is used while the user has not supplied one
	assert.Equal(t, "", h.chat.LastKey())
	sent := h.chat.LastMessages()
	assert.Equal(t, models.RoleSystem, sent[0].Role)
	assert.Equal(t, "how long do refunds take?", sent[len(sent)-1].Content)
}

func TestManager_AskEmptyQuery(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.readySession(t)

	_, err := h.manager.Ask(context.Background(), id, "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = h.manager.Ask(context.Background(), "missing", "q")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

// emptyPipeline wraps a pipeline whose retrieval never finds anything.
type emptyPipeline struct {
	Pipeline
}

func (emptyPipeline) Retrieve(context.Context, string, string) ([]models.SearchResult, error) {
	return nil, nil
}

func TestManager_AskNoResults(t *testing.T) {
	h := newHarness(t, Options{})
	h.manager.pipeline = emptyPipeline{Pipeline: h.manager.pipeline}
	id := h.readySession(t)

	res, err := h.manager.Ask(context.Background(), id, "unrelated question")
	require.NoError(t, err)
	assert.Nil(t, res.Reply)
	assert.Equal(t, "Oops ! No relevant data found...", res.Warning)

	require.Len(t, res.Session.Messages, 1, "the question is kept, no assistant turn is added")
	assert.Equal(t, models.RoleUser, res.Session.Messages[0].Role)
	assert.Equal(t, 0, h.chat.Calls())
}

func TestManager_FreeLimit(t *testing.T) {
	h := newHarness(t, Options{FreeQuestionLimit: 2})
	id := h.readySession(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.manager.Ask(ctx, id, "refunds?")
		require.NoError(t, err)
	}

	_, err := h.manager.Ask(ctx, id, "one more?")
	assert.ErrorIs(t, err, ErrFreeLimitReached)

	s, _ := h.manager.Get(id)
	assert.Equal(t, 0, s.FreeQuestionsLeft)
	assert.False(t, s.HasUserKey)

	s, err = h.manager.SetUserAPIKey(id, " sk-user ")
	require.NoError(t, err)
	assert.True(t, s.HasUserKey)

	_, err = h.manager.Ask(ctx, id, "one more?")
	require.NoError(t, err)
	assert.Equal(t, "sk-user", h.chat.LastKey())

	_, err = h.manager.SetUserAPIKey("missing", "k")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_AskUpstreamFailure(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.readySession(t)
	h.chat.Err = errors.New("401 invalid api key")

	_, err := h.manager.Ask(context.Background(), id, "refunds?")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorContains(t, err, "invalid api key")

	msgs, _ := h.manager.Messages(id)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
}

func TestManager_AskStream(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.readySession(t)

	var parts []string
	res, err := h.manager.AskStream(context.Background(), id, "refunds?", func(d string) error {
		parts = append(parts, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Refunds take thirty days, see page 2.", res.Reply.Content)
	assert.Greater(t, len(parts), 1)
	assert.Len(t, res.Session.Messages, 2)
}

func TestManager_AttachDocument(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.readySession(t)
	_, err := h.manager.Ask(context.Background(), id, "refunds?")
	require.NoError(t, err)
	before, _ := h.manager.Get(id)

	t.Run("same name keeps state", func(t *testing.T) {
		dup := h.files.AddFile("dup", "policy.pdf", []byte("%PDF-1.4"))
		s, err := h.manager.AttachDocument(id, dup)
		require.NoError(t, err)

		assert.Equal(t, models.SessionStatusReady, s.Status)
		assert.Equal(t, before.FileID, s.FileID)
		assert.Len(t, s.Messages, 2)
		_, err = h.files.Get("dup")
		assert.Error(t, err, "duplicate upload is discarded")
	})

	t.Run("new name resets state", func(t *testing.T) {
		s, err := h.manager.AttachDocument(id, h.upload("manual.pdf"))
		require.NoError(t, err)

		assert.Equal(t, models.SessionStatusUploaded, s.Status)
		assert.Equal(t, "manual.pdf", s.FileName)
		assert.Empty(t, s.Messages)
		assert.Empty(t, s.Collection)
		assert.Equal(t, 3, s.FreeQuestionsLeft)

		assert.Equal(t, 0, h.store.Collections(), "old collection dropped")
		_, err = h.files.Get(before.FileID)
		assert.Error(t, err, "old upload removed")
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := h.manager.AttachDocument("missing", h.upload("x.pdf"))
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestManager_ReplaceDocumentWhileIndexing(t *testing.T) {
	h := newHarness(t, Options{})
	gate := make(chan struct{})
	h.loader.Gate = gate

	s := h.manager.Create()
	_, err := h.manager.AttachDocument(s.ID, h.upload("first.pdf"))
	require.NoError(t, err)
	_, err = h.manager.Prepare(s.ID)
	require.NoError(t, err)

	_, err = h.manager.AttachDocument(s.ID, h.upload("second.pdf"))
	require.NoError(t, err)
	close(gate)

	// the cancelled run must not flip the new document to ready
	time.Sleep(50 * time.Millisecond)
	got, _ := h.manager.Get(s.ID)
	assert.Equal(t, models.SessionStatusUploaded, got.Status)
	assert.Equal(t, "second.pdf", got.FileName)
	assert.Equal(t, 0, h.store.Collections())
}

func TestManager_Delete(t *testing.T) {
	h := newHarness(t, Options{})
	id := h.readySession(t)
	s, _ := h.manager.Get(id)

	require.NoError(t, h.manager.Delete(id))

	_, ok := h.manager.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 0, h.store.Collections())
	_, err := h.files.Get(s.FileID)
	assert.Error(t, err)

	assert.ErrorIs(t, h.manager.Delete(id), ErrSessionNotFound)
}

func TestManager_Touch(t *testing.T) {
	h := newHarness(t, Options{})
	s := h.manager.Create()

	assert.True(t, h.manager.Touch(s.ID))
	assert.False(t, h.manager.Touch("missing"))
}

func TestManager_CleanupOldSessions(t *testing.T) {
	h := newHarness(t, Options{})
	stale := h.manager.Create()
	fresh := h.manager.Create()

	h.manager.mu.Lock()
	h.manager.sessions[stale.ID].LastAccessed = time.Now().Add(-2 * time.Hour)
	h.manager.mu.Unlock()

	removed := h.manager.CleanupOldSessions(time.Hour)
	assert.Equal(t, 1, removed)

	_, ok := h.manager.Get(stale.ID)
	assert.False(t, ok)
	_, ok = h.manager.Get(fresh.ID)
	assert.True(t, ok, "recently used sessions are kept")
}

func TestManager_EvictsAtCapacity(t *testing.T) {
	h := newHarness(t, Options{MaxSessions: 2})
	first := h.manager.Create()
	time.Sleep(2 * time.Millisecond)
	second := h.manager.Create()
	time.Sleep(2 * time.Millisecond)
	h.manager.Touch(first.ID)

	third := h.manager.Create()

	assert.Equal(t, 2, h.manager.Count())
	_, ok := h.manager.Get(second.ID)
	assert.False(t, ok, "least recently used session is evicted")
	_, ok = h.manager.Get(first.ID)
	assert.True(t, ok)
	_, ok = h.manager.Get(third.ID)
	assert.True(t, ok)
}

func TestManager_ConcurrentAsksAreSerialized(t *testing.T) {
	h := newHarness(t, Options{FreeQuestionLimit: 100})
	id := h.readySession(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.manager.Ask(context.Background(), id, "refunds?")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, _ := h.manager.Messages(id)
	require.Len(t, msgs, 20)
	for i, m := range msgs {
		if i%2 == 0 {
			assert.Equal(t, models.RoleUser, m.Role)
		} else {
			assert.Equal(t, models.RoleAssistant, m.Role)
		}
	}
}
