package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nearsend/nearsend/internal/protocol"
)

const fallbackName = "received.bin"

// Sink takes ownership of a completed file. It returns where the file
// ended up.
type Sink interface {
	Deliver(meta protocol.FileMetadata, data []byte) (string, error)
}

// DirectorySink writes files into Dir. Existing files are never
// overwritten; a numeric suffix is added instead.
type DirectorySink struct {
	Dir string
}

func (d DirectorySink) Deliver(meta protocol.FileMetadata, data []byte) (string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", d.Dir, err)
	}

	name := SanitizeName(meta.Name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(d.Dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create %s: %w", path, err)
		}

		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		return path, f.Close()
	}
}

// SanitizeName reduces a sender supplied name to a single path element.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || strings.TrimSpace(base) == "" {
		return fallbackName
	}
	return base
}

// MemorySink keeps delivered files in memory, keyed by name.
type MemorySink struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewMemorySink() *MemorySink {
	return &MemorySink{files: make(map[string][]byte)}
}

func (m *MemorySink) Deliver(meta protocol.FileMetadata, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[meta.Name] = data
	return meta.Name, nil
}

func (m *MemorySink) File(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	return data, ok
}
