package intent

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
)

var (
	ErrCorruptModel      = errors.New("model blob is corrupt")
	ErrIncompatibleModel = errors.New("model blob format is not supported")
	ErrNoModelStore      = errors.New("classifier has no model store")
)

const (
	blobMagic   = "KICM"
	blobVersion = uint16(1)
	headerSize  = len(blobMagic) + 2 + 4
)

// ModelStore persists classifier versions.
type ModelStore interface {
	Save(m *Model) error
	Load() (*Model, error)
}

// Encode serializes a model as magic, format version, CRC32, gob payload.
func Encode(m *Model) ([]byte, error) {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(m); err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}

	out := make([]byte, headerSize, headerSize+payload.Len())
	copy(out, blobMagic)
	binary.BigEndian.PutUint16(out[4:6], blobVersion)
	binary.BigEndian.PutUint32(out[6:10], crc32.ChecksumIEEE(payload.Bytes()))
	return append(out, payload.Bytes()...), nil
}

// Decode is the inverse of Encode. Any mismatch fails without partial results.
func Decode(blob []byte) (*Model, error) {
	if len(blob) < headerSize || string(blob[:4]) != blobMagic {
		return nil, ErrCorruptModel
	}
	if v := binary.BigEndian.Uint16(blob[4:6]); v != blobVersion {
		return nil, fmt.Errorf("%w: version %d", ErrIncompatibleModel, v)
	}
	payload := blob[headerSize:]
	if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(blob[6:10]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptModel)
	}

	var m Model
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	return &m, nil
}

// FileStore keeps the active model in a single file.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Save writes to a sibling temp file, re-reads and decodes it, and only then
// renames it over the current blob.
func (s *FileStore) Save(m *Model) error {
	blob, err := Encode(m)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write model: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model: %w", err)
	}

	written, err := os.ReadFile(tmpName)
	if err != nil {
		return fmt.Errorf("reread model: %w", err)
	}
	if _, err := Decode(written); err != nil {
		return fmt.Errorf("verify model: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	return nil
}

func (s *FileStore) Load() (*Model, error) {
	blob, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return Decode(blob)
}
