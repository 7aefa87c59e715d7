// mock_storage.go - Mock storage implementation for testing
package testutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/askmypdf/backend/internal/models"
	"github.com/askmypdf/backend/internal/storage"
)

// MockStorage implements storage.Store for testing. When created with a
// directory the bytes are also written to disk so loaders can open them.
type MockStorage struct {
	mu       sync.RWMutex
	dir      string
	files    map[string]*models.FileInfo
	fileData map[string][]byte
	counter  int

	// SaveErr, when set, is returned by Save.
	SaveErr error
}

// NewMockStorage creates an in-memory mock storage
func NewMockStorage() *MockStorage {
	return NewMockStorageWithTempDir("")
}

// NewMockStorageWithTempDir creates a mock storage backed by dir
func NewMockStorageWithTempDir(dir string) *MockStorage {
	return &MockStorage{
		dir:      dir,
		files:    make(map[string]*models.FileInfo),
		fileData: make(map[string][]byte),
	}
}

func (m *MockStorage) Save(name string, r io.Reader) (*models.FileInfo, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.counter++
	id := fmt.Sprintf("test-file-%d", m.counter)
	m.mu.Unlock()

	return m.AddFile(id, name, data), nil
}

func (m *MockStorage) Get(id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[id]
	if !ok {
		return nil, errors.New("file not found")
	}
	cp := *file
	return &cp, nil
}

func (m *MockStorage) List(limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make([]*models.FileInfo, 0, len(m.files))
	for _, file := range m.files {
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.files[id]; !exists {
		return errors.New("file not found")
	}
	if m.dir != "" {
		os.Remove(m.path(id))
	}

	delete(m.files, id)
	delete(m.fileData, id)
	return nil
}

func (m *MockStorage) GetFilePath(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.files[id]; !ok {
		return "", errors.New("file not found")
	}
	if m.dir == "" {
		return "/mock/path/" + id + ".pdf", nil
	}
	return m.path(id), nil
}

// Ensure MockStorage implements storage.Store
var _ storage.Store = (*MockStorage)(nil)

// Test Helper Methods

// AddFile adds a file directly to the mock
func (m *MockStorage) AddFile(id string, name string, data []byte) *models.FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dir != "" {
		if err := os.WriteFile(m.path(id), data, 0644); err != nil {
			panic(fmt.Sprintf("failed to write test file: %v", err))
		}
	}

	file := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
		Status:     "uploaded",
	}
	m.files[id] = file
	m.fileData[id] = data
	cp := *file
	return &cp
}

// GetFileData returns the file content
func (m *MockStorage) GetFileData(id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.fileData[id]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

// GetFileCount returns the number of stored files
func (m *MockStorage) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

func (m *MockStorage) path(id string) string {
	return filepath.Join(m.dir, id+".pdf")
}
