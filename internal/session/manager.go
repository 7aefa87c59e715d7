package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/askmypdf/backend/internal/models"
	"github.com/askmypdf/backend/internal/rag"
	"github.com/askmypdf/backend/internal/storage"
	"github.com/askmypdf/backend/internal/vectorstore"
	"github.com/google/uuid"
)

// MaxSessions is the default number of concurrent sessions
const MaxSessions = 10

// SessionMaxAge is how long to keep idle sessions before cleanup
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow is how long to keep sessions that are actively being used
const SessionKeepAliveWindow = 5 * time.Minute

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrNoDocument       = errors.New("no document uploaded")
	ErrNotReady         = errors.New("document is not prepared yet")
	ErrIndexing         = errors.New("document is still being prepared")
	ErrFreeLimitReached = errors.New("free question limit reached, an OpenAI API key is required")
	ErrEmptyQuery       = errors.New("query must not be empty")
	// ErrUpstream wraps failures of the embedding, vector store or chat
	// services while answering.
	ErrUpstream = errors.New("upstream service failed")
)

// Pipeline is the subset of rag.Pipeline the manager drives.
type Pipeline interface {
	Index(ctx context.Context, path, source, collection string, progress rag.ProgressFunc) (*rag.IndexResult, error)
	Retrieve(ctx context.Context, collection, query string) ([]models.SearchResult, error)
	Answer(ctx context.Context, apiKey string, results []models.SearchResult, history []models.Message) (string, error)
	AnswerStream(ctx context.Context, apiKey string, results []models.SearchResult, history []models.Message, onDelta func(string) error) (string, error)
	Drop(ctx context.Context, collection string) error
}

// Options configures the manager.
type Options struct {
	MaxSessions       int
	FreeQuestionLimit int
	NoResultsMessage  string
	IndexTimeout      time.Duration
}

// Manager holds the chat sessions and runs document indexing in the
// background.
type Manager struct {
	sessions map[string]*SessionState
	mu       sync.RWMutex
	files    storage.Store
	pipeline Pipeline
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
}

// SessionState holds the session and the values that never leave the server.
type SessionState struct {
	Session      *models.ChatSession
	UserAPIKey   string
	LastAccessed time.Time // Last time the session was accessed (for keep-alive)

	// generation changes whenever the document or its index is replaced, so
	// late results of an abandoned indexing run are discarded.
	generation  int
	cancelIndex context.CancelFunc
	askMu       sync.Mutex
}

// AskResult is the outcome of a question. Exactly one of Reply and Warning
// is set.
type AskResult struct {
	Reply   *models.Message     `json:"reply,omitempty"`
	Warning string              `json:"warning,omitempty"`
	Session *models.ChatSession `json:"session"`
}

// NewManager creates a session manager.
func NewManager(files storage.Store, pipeline Pipeline, opts Options) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = MaxSessions
	}
	if opts.NoResultsMessage == "" {
		opts.NoResultsMessage = "Oops ! No relevant data found..."
	}
	if opts.IndexTimeout == 0 {
		opts.IndexTimeout = 30 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions: make(map[string]*SessionState),
		files:    files,
		pipeline: pipeline,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// snapshot returns a copy of the session with derived counters filled in.
// Callers must hold m.mu.
func (m *Manager) snapshot(state *SessionState) *models.ChatSession {
	s := state.Session.Clone()
	s.QuestionsAsked = models.CountByRole(s.Messages, models.RoleUser)
	s.FreeQuestionsLeft = m.opts.FreeQuestionLimit - s.QuestionsAsked
	if s.FreeQuestionsLeft < 0 {
		s.FreeQuestionsLeft = 0
	}
	s.HasUserKey = state.UserAPIKey != ""
	return s
}

// Create starts a new empty session.
func (m *Manager) Create() *models.ChatSession {
	m.evictIfNeeded()

	id := uuid.New().String()
	state := &SessionState{
		Session:      models.NewChatSession(id, m.opts.FreeQuestionLimit),
		LastAccessed: time.Now(),
	}

	m.mu.Lock()
	m.sessions[id] = state
	snap := m.snapshot(state)
	m.mu.Unlock()

	fmt.Printf("[Session %s] Created\n", shortID(id))
	return snap
}

// Get returns a snapshot of the session.
func (m *Manager) Get(id string) (*models.ChatSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return m.snapshot(state), true
}

// Messages returns a copy of the conversation.
func (m *Manager) Messages(id string) ([]models.Message, bool) {
	s, ok := m.Get(id)
	if !ok {
		return nil, false
	}
	return s.Messages, true
}

// Touch updates the last accessed time for a session (keep-alive).
// Returns false if the session doesn't exist.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// resources are what a session owns outside the manager.
type resources struct {
	fileID     string
	collection string
}

func (m *Manager) release(id string, r resources) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if r.collection != "" {
		if err := m.pipeline.Drop(ctx, r.collection); err != nil {
			fmt.Printf("[Session %s] Failed to drop collection %s: %v\n", shortID(id), r.collection, err)
		}
	}
	if r.fileID != "" {
		if err := m.files.Delete(r.fileID); err != nil {
			fmt.Printf("[Session %s] Failed to delete file %s: %v\n", shortID(id), shortID(r.fileID), err)
		}
	}
}

// AttachDocument associates an uploaded file with the session. A file with
// the same name as the current one leaves the session untouched and the
// duplicate upload is discarded. Any other file resets the conversation and
// readiness and releases the previous document.
func (m *Manager) AttachDocument(id string, file *models.FileInfo) (*models.ChatSession, error) {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	state.LastAccessed = time.Now()
	sess := state.Session

	if sess.FileID != "" && sess.FileName == file.Name {
		snap := m.snapshot(state)
		m.mu.Unlock()
		if file.ID != sess.FileID {
			m.release(id, resources{fileID: file.ID})
		}
		return snap, nil
	}

	old := resources{fileID: sess.FileID, collection: sess.Collection}
	if state.cancelIndex != nil {
		state.cancelIndex()
		state.cancelIndex = nil
	}
	state.generation++

	sess.FileID = file.ID
	sess.FileName = file.Name
	sess.Status = models.SessionStatusUploaded
	sess.Messages = make([]models.Message, 0)
	sess.Collection = ""
	sess.Progress = 0
	sess.Stage = ""
	sess.PageCount = 0
	sess.ChunkCount = 0
	sess.IndexingTimeMs = 0
	sess.Error = ""
	snap := m.snapshot(state)
	m.mu.Unlock()

	fmt.Printf("[Session %s] Attached %s (%d bytes)\n", shortID(id), file.Name, file.Size)
	m.release(id, old)
	return snap, nil
}

// Prepare starts indexing the session's document in the background. It is a
// no-op when the document is already ready or being indexed.
func (m *Manager) Prepare(id string) (*models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	state.LastAccessed = time.Now()
	sess := state.Session

	if sess.FileID == "" {
		return nil, ErrNoDocument
	}
	if sess.Status == models.SessionStatusReady || sess.Status == models.SessionStatusIndexing {
		return m.snapshot(state), nil
	}

	path, err := m.files.GetFilePath(sess.FileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDocument, err)
	}

	state.generation++
	gen := state.generation
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.IndexTimeout)
	state.cancelIndex = cancel

	stale := sess.Collection
	sess.Collection = vectorstore.CollectionName()
	sess.Status = models.SessionStatusIndexing
	sess.Progress = 0
	sess.Stage = rag.StageLoading
	sess.Error = ""

	go m.runIndex(ctx, cancel, id, gen, path, sess.FileName, sess.Collection, stale)

	return m.snapshot(state), nil
}

func (m *Manager) runIndex(ctx context.Context, cancel context.CancelFunc, id string, gen int, path, source, collection, stale string) {
	defer cancel()
	// Recover from panics to prevent backend crash
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[Index %s] PANIC recovered: %v\n", shortID(id), r)
			m.failIndex(id, gen, collection, fmt.Sprintf("indexing panicked: %v", r))
		}
	}()

	if stale != "" {
		m.release(id, resources{collection: stale})
	}

	fmt.Printf("[Index %s] Starting %s into %s\n", shortID(id), source, collection)

	progress := func(stage string, pct float64) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if state, ok := m.sessions[id]; ok && state.generation == gen {
			state.Session.Stage = stage
			if pct > state.Session.Progress {
				state.Session.Progress = pct
			}
		}
	}

	result, err := m.pipeline.Index(ctx, path, source, collection, progress)
	if err != nil {
		fmt.Printf("[Index %s] ERROR: %v\n", shortID(id), err)
		m.failIndex(id, gen, collection, err.Error())
		return
	}

	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok || state.generation != gen {
		m.mu.Unlock()
		fmt.Printf("[Index %s] Discarding result for replaced document\n", shortID(id))
		m.release(id, resources{collection: collection})
		return
	}
	state.Session.Status = models.SessionStatusReady
	state.Session.Progress = 100
	state.Session.Stage = rag.StageDone
	state.Session.PageCount = result.Pages
	state.Session.ChunkCount = result.Chunks
	state.Session.IndexingTimeMs = result.Duration.Milliseconds()
	state.cancelIndex = nil
	m.mu.Unlock()

	fmt.Printf("[Index %s] Ready: %d pages, %d chunks in %v\n",
		shortID(id), result.Pages, result.Chunks, result.Duration.Round(time.Millisecond))
}

func (m *Manager) failIndex(id string, gen int, collection, reason string) {
	m.mu.Lock()
	if state, ok := m.sessions[id]; ok && state.generation == gen {
		state.Session.Status = models.SessionStatusError
		state.Session.Error = reason
		state.Session.Collection = ""
		state.cancelIndex = nil
	}
	m.mu.Unlock()

	m.release(id, resources{collection: collection})
}

// SetUserAPIKey stores the user's OpenAI key, used for chat completions
// instead of the server key. An empty key clears it.
func (m *Manager) SetUserAPIKey(id, key string) (*models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	state.UserAPIKey = strings.TrimSpace(key)
	state.LastAccessed = time.Now()
	return m.snapshot(state), nil
}

// Ask answers query against the session's document.
func (m *Manager) Ask(ctx context.Context, id, query string) (*AskResult, error) {
	return m.ask(ctx, id, query, func(apiKey string, results []models.SearchResult, history []models.Message) (string, error) {
		return m.pipeline.Answer(ctx, apiKey, results, history)
	})
}

// AskStream is Ask with the reply delivered incrementally to onDelta.
func (m *Manager) AskStream(ctx context.Context, id, query string, onDelta func(string) error) (*AskResult, error) {
	return m.ask(ctx, id, query, func(apiKey string, results []models.SearchResult, history []models.Message) (string, error) {
		return m.pipeline.AnswerStream(ctx, apiKey, results, history, onDelta)
	})
}

type answerFunc func(apiKey string, results []models.SearchResult, history []models.Message) (string, error)

func (m *Manager) ask(ctx context.Context, id, query string, answer answerFunc) (*AskResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	m.mu.RLock()
	state, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	// one question at a time per session
	state.askMu.Lock()
	defer state.askMu.Unlock()

	m.mu.Lock()
	sess := state.Session
	state.LastAccessed = time.Now()
	switch {
	case sess.FileID == "":
		m.mu.Unlock()
		return nil, ErrNoDocument
	case sess.Status == models.SessionStatusIndexing:
		m.mu.Unlock()
		return nil, ErrIndexing
	case sess.Status != models.SessionStatusReady:
		m.mu.Unlock()
		return nil, ErrNotReady
	}
	if state.UserAPIKey == "" && models.CountByRole(sess.Messages, models.RoleUser) >= m.opts.FreeQuestionLimit {
		m.mu.Unlock()
		return nil, ErrFreeLimitReached
	}

	sess.Messages = append(sess.Messages, models.NewMessage(models.RoleUser, query))
	gen := state.generation
	collection := sess.Collection
	apiKey := state.UserAPIKey
	history := make([]models.Message, len(sess.Messages))
	copy(history, sess.Messages)
	m.mu.Unlock()

	results, err := m.pipeline.Retrieve(ctx, collection, query)
	if err != nil {
		fmt.Printf("[Chat %s] Retrieval failed: %v\n", shortID(id), err)
		return nil, fmt.Errorf("%w: retrieving context: %w", ErrUpstream, err)
	}

	if len(results) == 0 {
		m.mu.RLock()
		snap := m.snapshot(state)
		m.mu.RUnlock()
		return &AskResult{Warning: m.opts.NoResultsMessage, Session: snap}, nil
	}

	reply, err := answer(apiKey, results, history)
	if err != nil {
		fmt.Printf("[Chat %s] Completion failed: %v\n", shortID(id), err)
		return nil, fmt.Errorf("%w: generating answer: %w", ErrUpstream, err)
	}

	msg := models.NewMessage(models.RoleAssistant, reply)
	msg.Sources = models.SourceRefs(results)

	m.mu.Lock()
	defer m.mu.Unlock()
	if state.generation == gen {
		sess.Messages = append(sess.Messages, msg)
	}
	return &AskResult{Reply: &msg, Session: m.snapshot(state)}, nil
}

// Delete removes the session and releases its document and collection.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	res := m.detach(id, state)
	m.mu.Unlock()

	m.release(id, res)
	fmt.Printf("[Session %s] Deleted\n", shortID(id))
	return nil
}

// detach removes a session from the map. Callers must hold m.mu.
func (m *Manager) detach(id string, state *SessionState) resources {
	if state.cancelIndex != nil {
		state.cancelIndex()
		state.cancelIndex = nil
	}
	state.generation++
	delete(m.sessions, id)
	return resources{fileID: state.Session.FileID, collection: state.Session.Collection}
}

// evictIfNeeded removes the least recently used idle sessions when at capacity
func (m *Manager) evictIfNeeded() {
	m.mu.Lock()

	if len(m.sessions) < m.opts.MaxSessions {
		m.mu.Unlock()
		return
	}

	type candidate struct {
		id    string
		state *SessionState
	}
	var candidates []candidate
	for id, state := range m.sessions {
		if state.Session.Status != models.SessionStatusIndexing {
			candidates = append(candidates, candidate{id, state})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].state.LastAccessed.Before(candidates[j].state.LastAccessed)
	})

	toFree := len(m.sessions) - m.opts.MaxSessions + 1
	released := make(map[string]resources)
	for _, c := range candidates {
		if len(released) >= toFree {
			break
		}
		released[c.id] = m.detach(c.id, c.state)
		fmt.Printf("[Manager] Evicted session %s to stay under %d sessions\n", shortID(c.id), m.opts.MaxSessions)
	}
	m.mu.Unlock()

	for id, res := range released {
		m.release(id, res)
	}
}

// CleanupOldSessions removes sessions idle for longer than maxAge,
// but keeps sessions that have been accessed within SessionKeepAliveWindow
// and sessions that are still indexing.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()

	cutoff := time.Now().Add(-maxAge)
	keepAliveCutoff := time.Now().Add(-SessionKeepAliveWindow)

	released := make(map[string]resources)
	for id, state := range m.sessions {
		if state.Session.Status == models.SessionStatusIndexing {
			continue
		}
		// Don't clean up sessions that are actively being used
		if state.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		if state.LastAccessed.Before(cutoff) {
			idle := time.Since(state.LastAccessed).Round(time.Second)
			released[id] = m.detach(id, state)
			fmt.Printf("[Manager] Cleaned up aged session %s (last accessed: %s ago)\n", shortID(id), idle)
		}
	}
	m.mu.Unlock()

	for id, res := range released {
		m.release(id, res)
	}
	return len(released)
}

// Close cancels running indexing and releases every session.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	released := make(map[string]resources, len(m.sessions))
	for id, state := range m.sessions {
		released[id] = m.detach(id, state)
	}
	m.mu.Unlock()

	for id, res := range released {
		m.release(id, res)
	}
}
