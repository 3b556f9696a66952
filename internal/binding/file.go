package binding

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/roach88/marginalia/internal/annotation"
)

// File is a model value stored in a file. Files ending in .json are JSON;
// anything else is YAML. A missing file reads as an empty value.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a model backed by path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Value reads the file.
func (f *File) Value() ([]*annotation.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []*annotation.Annotation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", f.path, err)
	}
	as, err := Decode(data, f.isJSON())
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", f.path, err)
	}
	return as, nil
}

// SetViewValue writes as to the file, replacing it atomically.
func (f *File) SetViewValue(as []*annotation.Annotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := Encode(as, f.isJSON())
	if err != nil {
		return fmt.Errorf("write model %s: %w", f.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".marginalia-*")
	if err != nil {
		return fmt.Errorf("write model %s: %w", f.path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write model %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write model %s: %w", f.path, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write model %s: %w", f.path, err)
	}
	return nil
}

func (f *File) isJSON() bool {
	return strings.EqualFold(filepath.Ext(f.path), ".json")
}

// Decode parses a list of annotations from YAML, or JSON when asJSON is set.
func Decode(data []byte, asJSON bool) ([]*annotation.Annotation, error) {
	if asJSON {
		return annotation.DecodeList(data)
	}

	var raw []any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	out := make([]*annotation.Annotation, 0, len(raw))
	for i, item := range raw {
		a, err := annotation.FromAnyAnnotation(item)
		if err != nil {
			return nil, fmt.Errorf("annotation %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Encode renders annotations as YAML, or indented JSON when asJSON is set.
func Encode(as []*annotation.Annotation, asJSON bool) ([]byte, error) {
	if as == nil {
		as = []*annotation.Annotation{}
	}
	if asJSON {
		data, err := json.MarshalIndent(as, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	return yaml.Marshal(as)
}
