package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidMetadata = errors.New("invalid file metadata")

// FileMetadata is the text frame that opens every transfer on a data channel.
type FileMetadata struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

func EncodeMetadata(meta FileMetadata) (string, error) {
	meta.Kind = FrameKindMetadata
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeMetadata parses a text frame. Anything that is not a well formed
// metadata frame with a non-negative size is rejected.
func DecodeMetadata(text string) (FileMetadata, error) {
	var meta FileMetadata
	if err := json.Unmarshal([]byte(text), &meta); err != nil {
		return FileMetadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if meta.Kind != FrameKindMetadata {
		return FileMetadata{}, fmt.Errorf("%w: kind %q", ErrInvalidMetadata, meta.Kind)
	}
	if meta.Size < 0 {
		return FileMetadata{}, fmt.Errorf("%w: negative size %d", ErrInvalidMetadata, meta.Size)
	}
	return meta, nil
}
