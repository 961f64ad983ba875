package transfer

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

const defaultMimeType = "application/octet-stream"

// File is an outgoing file. Reader must yield exactly Size bytes.
type File struct {
	Name     string
	Size     int64
	MimeType string
	Reader   io.Reader

	closer io.Closer
}

// OpenFile opens path for sending and guesses its MIME type from the
// extension.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &File{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MimeType: MimeTypeFor(path),
		Reader:   f,
		closer:   f,
	}, nil
}

// NewBytesFile wraps an in-memory payload.
func NewBytesFile(name string, data []byte) *File {
	return &File{
		Name:     name,
		Size:     int64(len(data)),
		MimeType: MimeTypeFor(name),
		Reader:   bytes.NewReader(data),
	}
}

func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

func MimeTypeFor(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return defaultMimeType
}
