// Package vector provides a persistent nearest-neighbor index over embedded chunks.
package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrCorrupt indicates a persisted index file exists but cannot be read or its
// dimensionality does not match the configured embedding capability.
var ErrCorrupt = errors.New("vector index corrupt")

// Result is a single similarity search hit. ID is the chunk ID.
type Result struct {
	ID    string
	Score float64 // inner product over normalized vectors (cosine similarity)
}

// Index is a flat vector index using brute-force inner product search.
// Entries are append only: re-adding an ID never mutates the earlier entry.
// Safe for concurrent use: multi-reader search, single-writer add.
type Index struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// Open loads the index persisted at path, or returns an empty index sized to
// dimensions when no file exists there. A file that cannot be parsed or whose
// dimensionality differs from dimensions yields ErrCorrupt.
func Open(path string, dimensions int) (*Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	idx := &Index{
		dimensions: dimensions,
		ids:        make([]string, 0),
		vectors:    make([][]float32, 0),
	}
	if path == "" {
		return idx, nil
	}
	if err := idx.load(path); err != nil {
		return nil, err
	}
	return idx, nil
}

// Add appends vectors with the given IDs.
func (x *Index) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, id := range ids {
		if len(vectors[i]) != x.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), x.dimensions)
		}
		vec := make([]float32, x.dimensions)
		copy(vec, vectors[i])
		x.ids = append(x.ids, id)
		x.vectors = append(x.vectors, vec)
	}
	return nil
}

// Search returns the top-k entries by inner product (cosine similarity for
// normalized vectors), nearest first. Ties are broken by insertion order,
// earliest entry first.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	if len(query) != x.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), x.dimensions)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if k <= 0 || len(x.ids) == 0 {
		return nil, nil
	}
	type scored struct {
		pos   int
		score float64
	}
	scores := make([]scored, len(x.ids))
	for i, vec := range x.vectors {
		var dot float64
		for j := 0; j < x.dimensions; j++ {
			dot += float64(query[j] * vec[j])
		}
		scores[i] = scored{pos: i, score: dot}
	}
	// Stable sort keeps insertion order among equal scores.
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if k > len(scores) {
		k = len(scores)
	}
	result := make([]*Result, k)
	for i := 0; i < k; i++ {
		result[i] = &Result{ID: x.ids[scores[i].pos], Score: scores[i].score}
	}
	return result, nil
}

// Remove removes entries by ID, rebuilding the backing slices.
func (x *Index) Remove(ctx context.Context, ids []string) error {
	removeSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	newIDs := make([]string, 0, len(x.ids))
	newVectors := make([][]float32, 0, len(x.vectors))
	for i, id := range x.ids {
		if !removeSet[id] {
			newIDs = append(newIDs, id)
			newVectors = append(newVectors, x.vectors[i])
		}
	}
	x.ids = newIDs
	x.vectors = newVectors
	return nil
}

// Save persists the index to path atomically: the contents are written to a
// temp file in the same directory and renamed over the destination, so a
// failed save never corrupts the previously persisted version. Directory is
// created if needed. Format: dimensions (4), n (4), then per entry: idLen (4),
// id bytes, vector (dimensions*4 bytes), all little endian.
func (x *Index) Save(path string) error {
	if path == "" {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	tmpName := tmp.Name()
	if err := x.writeTo(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

func (x *Index) writeTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(x.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(x.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range x.ids {
		idBytes := []byte(id)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(idBytes))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := w.Write(idBytes); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(x.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// load reads the persisted index from path. Missing file is not an error; a
// malformed file or dimension mismatch is reported as ErrCorrupt.
func (x *Index) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: open %s: %v", ErrCorrupt, path, err)
	}
	defer f.Close()
	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("%w: read dimensions: %v", ErrCorrupt, err)
	}
	if int(dim) != x.dimensions {
		return fmt.Errorf("%w: file has dimension %d, index expects %d", ErrCorrupt, dim, x.dimensions)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("%w: read count: %v", ErrCorrupt, err)
	}
	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	buf := make([]byte, x.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(f, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("%w: read id len: %v", ErrCorrupt, err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(f, idBytes); err != nil {
			return fmt.Errorf("%w: read id: %v", ErrCorrupt, err)
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("%w: read vector: %v", ErrCorrupt, err)
		}
		ids = append(ids, string(idBytes))
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	x.mu.Lock()
	x.ids = ids
	x.vectors = vectors
	x.mu.Unlock()
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of entries in the index.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// Dimensions returns the embedding dimensionality the index was opened with.
func (x *Index) Dimensions() int {
	return x.dimensions
}

// Close is a no-op; the index holds no OS resources between saves.
func (x *Index) Close() error {
	return nil
}
