// Package app assembles the indexing and chat stack from configuration.
package app

import (
	"fmt"
	"time"

	"github.com/askmypdf/backend/internal/config"
	"github.com/askmypdf/backend/internal/embedding"
	"github.com/askmypdf/backend/internal/llm"
	"github.com/askmypdf/backend/internal/loader"
	"github.com/askmypdf/backend/internal/rag"
	"github.com/askmypdf/backend/internal/session"
	"github.com/askmypdf/backend/internal/splitter"
	"github.com/askmypdf/backend/internal/storage"
	"github.com/askmypdf/backend/internal/vectorstore"
	"github.com/askmypdf/backend/internal/vectorstore/duckstore"
	"github.com/askmypdf/backend/internal/vectorstore/memory"
	"github.com/askmypdf/backend/internal/vectorstore/qdrant"
)

// App holds the wired components shared by the server and the terminal client.
type App struct {
	Config   *config.AppConfig
	Files    *storage.LocalStore
	Vectors  vectorstore.Store
	Pipeline *rag.Pipeline
	Sessions *session.Manager
}

// OpenVectorStore opens the backend selected by vector_store.type.
func OpenVectorStore(cfg *config.AppConfig) (vectorstore.Store, error) {
	switch cfg.VectorStore.Type {
	case config.VectorStoreDuckDB:
		return duckstore.Open(duckstore.Options{
			Path:        cfg.VectorStore.DuckDB.Path,
			MemoryLimit: cfg.VectorStore.DuckDB.MemoryLimit,
			Threads:     cfg.VectorStore.DuckDB.Threads,
		})
	case config.VectorStoreQdrant:
		q := cfg.VectorStore.Qdrant
		return qdrant.Dial(qdrant.Options{
			Host:    q.Host,
			Port:    q.Port,
			UseTLS:  q.UseTLS,
			APIKey:  cfg.QdrantKey(),
			Timeout: time.Duration(q.TimeoutSeconds) * time.Second,
		})
	case config.VectorStoreMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}
}

// Build wires storage, the vector store, the OpenAI clients and the session
// manager. Close releases what Build opened.
func Build(cfg *config.AppConfig) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	files, err := storage.NewLocalStore(cfg.GetUploadDir())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	timeout := time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second
	embedder, err := embedding.NewOpenAI(embedding.OpenAIConfig{
		APIKey:     cfg.OpenAIKey(),
		BaseURL:    cfg.OpenAI.BaseURL,
		Model:      cfg.OpenAI.EmbeddingModel,
		Dimensions: cfg.OpenAI.EmbeddingDimensions,
		BatchSize:  cfg.OpenAI.EmbeddingBatchSize,
		Timeout:    timeout,
		MaxRetries: cfg.OpenAI.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	chat := llm.NewOpenAI(llm.Config{
		APIKey:  cfg.OpenAIKey(),
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.ChatModel,
		Timeout: timeout,
	})

	chunker, err := splitter.NewRecursive(cfg.Splitter.ChunkSize, cfg.Splitter.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	prompt, err := rag.NewPrompt(cfg.Prompt.SystemTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid system_template: %w", err)
	}

	vectors, err := OpenVectorStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	pipeline := rag.NewPipeline(loader.NewPDFLoader(), chunker, embedder, vectors, chat, prompt, rag.Options{
		TopK:          cfg.Retrieval.TopK,
		BatchSize:     cfg.OpenAI.EmbeddingBatchSize,
		HistoryWindow: cfg.Session.HistoryWindow,
	})

	sessions := session.NewManager(files, pipeline, session.Options{
		MaxSessions:       cfg.Session.MaxSessions,
		FreeQuestionLimit: cfg.Session.FreeQuestionLimit,
		NoResultsMessage:  cfg.Retrieval.NoResultsMessage,
	})

	fmt.Printf("[App] Embeddings: %s, chat: %s, vector store: %s\n",
		embedder.Name(), chat.Model(), vectors.Name())

	return &App{
		Config:   cfg,
		Files:    files,
		Vectors:  vectors,
		Pipeline: pipeline,
		Sessions: sessions,
	}, nil
}

// StartCleanup removes idle sessions every cleanup interval until stop is
// closed.
func (a *App) StartCleanup(stop <-chan struct{}) {
	interval := time.Duration(a.Config.Session.CleanupIntervalMinutes) * time.Minute
	maxAge := time.Duration(a.Config.Session.TimeoutMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := a.Sessions.CleanupOldSessions(maxAge); n > 0 {
					fmt.Printf("[Cleanup] Removed %d idle sessions\n", n)
				}
			case <-stop:
				return
			}
		}
	}()
}

// Close stops indexing and closes the vector store.
func (a *App) Close() error {
	a.Sessions.Close()
	return a.Vectors.Close()
}
