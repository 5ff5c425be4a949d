package spectrumfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	zstdSuffix = ".zst"
	filePrefix = "densitystep_"
	skipSuffix = "_SKIP"
)

// EncodeAll/DecodeAll are safe for concurrent use.
var (
	encoder = mustCodec(zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)))
	decoder = mustCodec(zstd.NewReader(nil))
)

func mustCodec[T any](codec T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("spectrumfile: zstd setup: %v", err))
	}
	return codec
}

// Store writes records into one capture directory.
type Store struct {
	Dir      string
	Compress bool
}

// NewStore creates dir if needed.
func NewStore(dir string, compress bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	return &Store{Dir: dir, Compress: compress}, nil
}

// Path returns the file a record is saved to.
func (s *Store) Path(rec *Record) string {
	return filepath.Join(s.Dir, Filename(rec.Stepname, rec.Stage, rec.Skip, s.Compress))
}

// Save overwrites the file of rec. Readers never see a partial file.
func (s *Store) Save(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return WriteJSON(s.Path(rec), rec)
}

// Load reads and validates one record file.
func Load(path string) (*Record, error) {
	var rec Record
	if err := ReadJSON(path, &rec); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

// List returns the record files in dir, sorted by name. When a stage was
// saved under several names (compression or skip toggled between runs) only
// the most recently written file is returned.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture directory: %w", err)
	}

	type candidate struct {
		name    string
		modTime time.Time
	}
	newest := map[string]candidate{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) {
			continue
		}
		if !strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".json"+zstdSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", name, err)
		}
		key := stageKey(name)
		c := candidate{name: name, modTime: info.ModTime()}
		if prev, ok := newest[key]; ok {
			if prev.modTime.After(c.modTime) || (prev.modTime.Equal(c.modTime) && prev.name > c.name) {
				continue
			}
		}
		newest[key] = c
	}

	paths := make([]string, 0, len(newest))
	for _, c := range newest {
		paths = append(paths, filepath.Join(dir, c.name))
	}
	sort.Strings(paths)
	return paths, nil
}

// stageKey strips the suffixes that do not identify a stage.
func stageKey(name string) string {
	name = strings.TrimSuffix(name, zstdSuffix)
	name = strings.TrimSuffix(name, ".json")
	return strings.TrimSuffix(name, skipSuffix)
}

// WriteJSON marshals v into path through a temporary file and a rename. A
// path ending in .zst is zstd compressed.
func WriteJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if strings.HasSuffix(path, zstdSuffix) {
		data = encoder.EncodeAll(data, make([]byte, 0, len(data)/4))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadJSON reads a file written by WriteJSON into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if strings.HasSuffix(path, zstdSuffix) {
		data, err = decoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("failed to decompress %s: %w", filepath.Base(path), err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
