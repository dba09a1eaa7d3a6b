package semantic

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// File format: prumo-emb v1
// Header: magic(8) + version(4) + dims(4) + rows(4) + key(32)
// Body: rows * dims * float32, little-endian, storage order.
//
// The key is sha256(modelID | corpusHash): the cache is content
// addressed, so a different model or a changed corpus simply resolves
// to a different file and forces recomputation.

const cacheMagic = "PRUMOEB1"

// CacheKey derives the content address for a (model, corpus) pair.
func CacheKey(modelID, corpusHash string) [32]byte {
	h := sha256.New()
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write([]byte(corpusHash))
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}

// CachePath resolves the cache file location inside dir.
func CachePath(dir, modelID, corpusHash string) string {
	key := CacheKey(modelID, corpusHash)
	return filepath.Join(dir, fmt.Sprintf("embeddings-%x.bin", key[:8]))
}

// SaveCache persists the index atomically: the matrix is written to a
// temp file in the same directory and renamed over the target, so a
// crash mid-write never leaves a partial cache behind.
func SaveCache(path, modelID, corpusHash string, idx *Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".embeddings-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	w := bufio.NewWriter(tmp)
	if _, err := w.WriteString(cacheMagic); err != nil {
		return err
	}
	if err := writeUint32(w, 1); err != nil { // version
		return err
	}
	if err := writeUint32(w, uint32(idx.dims)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(idx.vectors))); err != nil {
		return err
	}
	key := CacheKey(modelID, corpusHash)
	if _, err := w.Write(key[:]); err != nil {
		return err
	}
	for _, vec := range idx.vectors {
		for _, v := range vec {
			if err := writeUint32(w, math.Float32bits(v)); err != nil {
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// LoadCache restores an index from disk, verifying magic, version and
// the (model, corpus) key. Any mismatch or corruption returns an error;
// callers fall back to recomputation.
func LoadCache(path, modelID, corpusHash string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cache file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	magicBuf := make([]byte, len(cacheMagic))
	if _, err := io.ReadFull(r, magicBuf); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if string(magicBuf) != cacheMagic {
		return nil, fmt.Errorf("invalid cache magic %q", string(magicBuf))
	}

	version, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != 1 {
		return nil, fmt.Errorf("unsupported cache version %d", version)
	}

	dims, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("reading dims: %w", err)
	}
	rows, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("reading row count: %w", err)
	}
	if dims == 0 || rows == 0 {
		return nil, fmt.Errorf("cache header has zero dims or rows")
	}

	storedKey := make([]byte, 32)
	if _, err := io.ReadFull(r, storedKey); err != nil {
		return nil, fmt.Errorf("reading cache key: %w", err)
	}
	wantKey := CacheKey(modelID, corpusHash)
	if string(storedKey) != string(wantKey[:]) {
		return nil, fmt.Errorf("cache key mismatch: model or corpus changed")
	}

	vectors := make([][]float32, rows)
	for i := range vectors {
		vec := make([]float32, dims)
		for j := range vec {
			bits, err := readUint32(r)
			if err != nil {
				return nil, fmt.Errorf("reading vector %d: %w", i, err)
			}
			vec[j] = math.Float32frombits(bits)
		}
		vectors[i] = vec
	}

	// Vectors were normalized before saving, so renormalization inside
	// NewIndex is a no-op; going through it keeps the cache-hit path on
	// the same TopK machinery (including the large-corpus graph) as a
	// fresh build.
	return NewIndex(vectors)
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
