// Package config provides YAML-based configuration for the AskMyPDF server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Vector store backends.
const (
	VectorStoreDuckDB = "duckdb"
	VectorStoreQdrant = "qdrant"
	VectorStoreMemory = "memory"
)

// DefaultSystemTemplate is the assistant instruction block. {{.Context}} is
// replaced by the retrieved page excerpts.
const DefaultSystemTemplate = `You are a helpful AI Assistant who answers user query based on the available context
retrieved from a PDF file along with page_contents and page number.

You should only answer the user based on the following context and navigate the user
to open the right page number to know more.
If the answer is not in the context, politely say you don't know and suggest the user check the referenced pages for more details.

Context:
{{.Context}}`

// AppConfig represents the root configuration structure
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Session     SessionConfig     `yaml:"session"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Splitter    SplitterConfig    `yaml:"splitter"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Prompt      PromptConfig      `yaml:"prompt"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port                 int    `yaml:"port"`
	BindAddress          string `yaml:"bind_address"`
	EnableCORS           bool   `yaml:"enable_cors"`
	AllowOrigins         string `yaml:"allow_origins"`
	ReadTimeout          int    `yaml:"read_timeout_seconds"`
	WriteTimeout         int    `yaml:"write_timeout_seconds"`
	IdleTimeout          int    `yaml:"idle_timeout_seconds"`
	BodyLimit            string `yaml:"body_limit"`
	EnableRequestLogging bool   `yaml:"enable_request_logging"`
	EnableCompression    bool   `yaml:"enable_compression"`
	CompressionLevel     int    `yaml:"compression_level"`
	ExposeErrorDetails   bool   `yaml:"expose_error_details"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `yaml:"data_directory"`
	UploadsDirectory string `yaml:"uploads_directory"`
	VectorDirectory  string `yaml:"vector_directory"`
}

// SessionConfig controls chat session bookkeeping
type SessionConfig struct {
	MaxSessions            int `yaml:"max_sessions"`
	TimeoutMinutes         int `yaml:"timeout_minutes"`
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
	FreeQuestionLimit      int `yaml:"free_question_limit"`
	HistoryWindow          int `yaml:"history_window"` // 0 sends the whole conversation
}

// OpenAIConfig configures embeddings and chat completions
type OpenAIConfig struct {
	APIKeyEnv           string `yaml:"api_key_env"`
	APIKey              string `yaml:"api_key,omitempty"`
	BaseURL             string `yaml:"base_url"`
	EmbeddingModel      string `yaml:"embedding_model"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions"`
	EmbeddingBatchSize  int    `yaml:"embedding_batch_size"`
	ChatModel           string `yaml:"chat_model"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	MaxRetries          int    `yaml:"max_retries"`
}

// SplitterConfig configures how pages are split into chunks
type SplitterConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// RetrievalConfig configures similarity search
type RetrievalConfig struct {
	TopK             int    `yaml:"top_k"`
	NoResultsMessage string `yaml:"no_results_message"`
}

// VectorStoreConfig selects and configures the vector store implementation
type VectorStoreConfig struct {
	Type   string       `yaml:"type"`
	Qdrant QdrantConfig `yaml:"qdrant"`
	DuckDB DuckDBConfig `yaml:"duckdb"`
}

// QdrantConfig contains connection details for a Qdrant gRPC endpoint
type QdrantConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	UseTLS         bool   `yaml:"use_tls"`
	APIKeyEnv      string `yaml:"api_key_env"`
	APIKey         string `yaml:"api_key,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DuckDBConfig configures the embedded DuckDB vector table
type DuckDBConfig struct {
	Path        string `yaml:"path"`
	MemoryLimit string `yaml:"memory_limit"`
	Threads     int    `yaml:"threads"`
}

// PromptConfig holds the system prompt template
type PromptConfig struct {
	SystemTemplate string `yaml:"system_template"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:                 8501,
			BindAddress:          "0.0.0.0",
			EnableCORS:           true,
			AllowOrigins:         "*",
			ReadTimeout:          60,
			WriteTimeout:         180,
			IdleTimeout:          120,
			BodyLimit:            "50M",
			EnableRequestLogging: true,
			EnableCompression:    true,
			CompressionLevel:     5,
			ExposeErrorDetails:   true,
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
			VectorDirectory:  "./data/vectors",
		},
		Session: SessionConfig{
			MaxSessions:            10,
			TimeoutMinutes:         30,
			CleanupIntervalMinutes: 5,
			FreeQuestionLimit:      3,
			HistoryWindow:          20,
		},
		OpenAI: OpenAIConfig{
			APIKeyEnv:          "OPENAI_API_KEY",
			BaseURL:            "https://api.openai.com/v1",
			EmbeddingModel:     "text-embedding-3-large",
			EmbeddingBatchSize: 64,
			ChatModel:          "gpt-4.1",
			TimeoutSeconds:     60,
			MaxRetries:         5,
		},
		Splitter: SplitterConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Retrieval: RetrievalConfig{
			TopK:             4,
			NoResultsMessage: "Oops ! No relevant data found...",
		},
		VectorStore: VectorStoreConfig{
			Type: VectorStoreDuckDB,
			Qdrant: QdrantConfig{
				Host:           "localhost",
				Port:           6334,
				APIKeyEnv:      "QDRANT_API_KEY",
				TimeoutSeconds: 30,
			},
			DuckDB: DuckDBConfig{
				Path:        "./data/vectors/askmypdf.duckdb",
				MemoryLimit: "1GB",
				Threads:     4,
			},
		},
		Prompt: PromptConfig{
			SystemTemplate: DefaultSystemTemplate,
		},
	}
}

// Load loads configuration from a YAML file. A missing file is created with
// defaults.
func Load(configPath string) (*AppConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		cfg := DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		cfg.applyEnvironmentOverrides()
		cfg.resolvePaths(filepath.Dir(configPath))
		return cfg, nil
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvironmentOverrides()
	cfg.resolvePaths(filepath.Dir(configPath))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating directories as needed.
func (c *AppConfig) Save(configPath string) error {
	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# AskMyPDF configuration\n# This file is auto-generated on first run\n\n")
	if err := os.WriteFile(configPath, append(header, out...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	switch c.VectorStore.Type {
	case VectorStoreDuckDB, VectorStoreQdrant, VectorStoreMemory:
	default:
		return fmt.Errorf("unknown vector store: %q", c.VectorStore.Type)
	}
	if c.Splitter.ChunkOverlap >= c.Splitter.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Splitter.ChunkOverlap, c.Splitter.ChunkSize)
	}
	if c.Session.FreeQuestionLimit < 0 {
		return fmt.Errorf("free_question_limit must not be negative")
	}
	return nil
}

// applyDefaults fills zero values left by a partial config file
func (c *AppConfig) applyDefaults() {
	def := DefaultConfig()
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.BodyLimit == "" {
		c.Server.BodyLimit = def.Server.BodyLimit
	}
	if c.Session.MaxSessions <= 0 {
		c.Session.MaxSessions = def.Session.MaxSessions
	}
	if c.Session.TimeoutMinutes <= 0 {
		c.Session.TimeoutMinutes = def.Session.TimeoutMinutes
	}
	if c.Session.CleanupIntervalMinutes <= 0 {
		c.Session.CleanupIntervalMinutes = def.Session.CleanupIntervalMinutes
	}
	if c.OpenAI.APIKeyEnv == "" {
		c.OpenAI.APIKeyEnv = def.OpenAI.APIKeyEnv
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = def.OpenAI.BaseURL
	}
	if c.OpenAI.EmbeddingModel == "" {
		c.OpenAI.EmbeddingModel = def.OpenAI.EmbeddingModel
	}
	if c.OpenAI.EmbeddingBatchSize <= 0 {
		c.OpenAI.EmbeddingBatchSize = def.OpenAI.EmbeddingBatchSize
	}
	if c.OpenAI.ChatModel == "" {
		c.OpenAI.ChatModel = def.OpenAI.ChatModel
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		c.OpenAI.TimeoutSeconds = def.OpenAI.TimeoutSeconds
	}
	if c.Splitter.ChunkSize <= 0 {
		c.Splitter.ChunkSize = def.Splitter.ChunkSize
	}
	if c.Splitter.ChunkOverlap < 0 {
		c.Splitter.ChunkOverlap = 0
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = def.Retrieval.TopK
	}
	if c.Retrieval.NoResultsMessage == "" {
		c.Retrieval.NoResultsMessage = def.Retrieval.NoResultsMessage
	}
	if c.VectorStore.Type == "" {
		c.VectorStore.Type = def.VectorStore.Type
	}
	if c.VectorStore.Qdrant.Port == 0 {
		c.VectorStore.Qdrant.Port = def.VectorStore.Qdrant.Port
	}
	if c.VectorStore.Qdrant.APIKeyEnv == "" {
		c.VectorStore.Qdrant.APIKeyEnv = def.VectorStore.Qdrant.APIKeyEnv
	}
	if c.VectorStore.DuckDB.Path == "" {
		c.VectorStore.DuckDB.Path = def.VectorStore.DuckDB.Path
	}
	if c.Prompt.SystemTemplate == "" {
		c.Prompt.SystemTemplate = def.Prompt.SystemTemplate
	}
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
		c.Storage.VectorDirectory = filepath.Join(dataDir, "vectors")
		c.VectorStore.DuckDB.Path = filepath.Join(dataDir, "vectors", "askmypdf.duckdb")
	}

	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		c.OpenAI.BaseURL = baseURL
	}

	if vs := os.Getenv("VECTOR_STORE"); vs != "" {
		c.VectorStore.Type = vs
	}

	if host := os.Getenv("QDRANT_HOST"); host != "" {
		c.VectorStore.Qdrant.Host = host
	}
	if port := os.Getenv("QDRANT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.VectorStore.Qdrant.Port = p
		}
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
	resolve(&c.Storage.DataDirectory)
	resolve(&c.Storage.UploadsDirectory)
	resolve(&c.Storage.VectorDirectory)
	resolve(&c.VectorStore.DuckDB.Path)
}

// OpenAIKey returns the server-side OpenAI key: the inline key if set,
// otherwise the configured environment variable.
func (c *AppConfig) OpenAIKey() string {
	if c.OpenAI.APIKey != "" {
		return c.OpenAI.APIKey
	}
	return os.Getenv(c.OpenAI.APIKeyEnv)
}

// QdrantKey returns the Qdrant API key the same way OpenAIKey does.
func (c *AppConfig) QdrantKey() string {
	if c.VectorStore.Qdrant.APIKey != "" {
		return c.VectorStore.Qdrant.APIKey
	}
	return os.Getenv(c.VectorStore.Qdrant.APIKeyEnv)
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// ServerAddr returns the server bind address
func (c *AppConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.VectorDirectory,
	}
	if c.VectorStore.Type == VectorStoreDuckDB {
		dirs = append(dirs, filepath.Dir(c.VectorStore.DuckDB.Path))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
