package inspect

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	currenterrors "github.com/go-drift/current/pkg/errors"
)

// EncodeYAML writes the snapshot to w as a YAML document.
func (s *Snapshot) EncodeYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		enc.Close()
		return &currenterrors.StateError{
			Op:   "inspect.encode",
			Kind: currenterrors.KindInspect,
			Err:  err,
		}
	}
	if err := enc.Close(); err != nil {
		return &currenterrors.StateError{
			Op:   "inspect.encode",
			Kind: currenterrors.KindInspect,
			Err:  err,
		}
	}
	return nil
}

// DecodeYAML reads one YAML document from r.
func DecodeYAML(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
		return nil, &currenterrors.StateError{
			Op:   "inspect.decode",
			Kind: currenterrors.KindInspect,
			Err:  err,
		}
	}
	return &snap, nil
}

// WriteFile encodes the snapshot to path, creating or truncating the file.
func (s *Snapshot) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := s.EncodeYAML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile decodes a snapshot previously written with WriteFile.
func ReadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()
	return DecodeYAML(f)
}
