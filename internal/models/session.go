package models

import "time"

// SessionStatus represents the lifecycle state of a chat session's document.
type SessionStatus string

const (
	SessionStatusEmpty    SessionStatus = "empty"
	SessionStatusUploaded SessionStatus = "uploaded"
	SessionStatusIndexing SessionStatus = "indexing"
	SessionStatusReady    SessionStatus = "ready"
	SessionStatusError    SessionStatus = "error"
)

// ChatSession is the per-browser state: the uploaded document, its index
// readiness and the chat turns exchanged so far.
type ChatSession struct {
	ID                string        `json:"id"`
	FileID            string        `json:"fileId,omitempty"`
	FileName          string        `json:"fileName,omitempty"`
	Status            SessionStatus `json:"status"`
	Progress          float64       `json:"progress"` // 0-100
	Stage             string        `json:"stage,omitempty"`
	Collection        string        `json:"collection,omitempty"`
	PageCount         int           `json:"pageCount,omitempty"`
	ChunkCount        int           `json:"chunkCount,omitempty"`
	Messages          []Message     `json:"messages"`
	QuestionsAsked    int           `json:"questionsAsked"`
	FreeQuestionsLeft int           `json:"freeQuestionsLeft"`
	HasUserKey        bool          `json:"hasUserKey"`
	IndexingTimeMs    int64         `json:"indexingTimeMs,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	Error             string        `json:"error,omitempty"`
}

// NewChatSession creates an empty session waiting for a document.
func NewChatSession(id string, freeQuestions int) *ChatSession {
	return &ChatSession{
		ID:                id,
		Status:            SessionStatusEmpty,
		Messages:          make([]Message, 0),
		FreeQuestionsLeft: freeQuestions,
		CreatedAt:         time.Now(),
	}
}

// Ready reports whether the session's document is indexed and can be queried.
func (s *ChatSession) Ready() bool {
	return s.Status == SessionStatusReady
}

// Clone returns a deep copy safe to hand out while the original keeps changing.
func (s *ChatSession) Clone() *ChatSession {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		cp.Messages[i] = m.Clone()
	}
	return &cp
}
