package merkle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/sorag20/Unirep/internal/atomicfile"
)

// ErrUnsupportedFormatVersion is returned when loading a checkpoint with an
// unknown format version.
var ErrUnsupportedFormatVersion = errors.New("merkle: unsupported checkpoint format version")

// checkpointVersion is the current checkpoint format.
// Version 1: version(1) + depth(1) + count(8) + leaves(count*32, big endian)
const checkpointVersion byte = 1

const leafSize = 32

// WriteTo serializes the tree as its depth and ordered leaves.
func (t *Tree) WriteTo(w io.Writer) (int64, error) {
	header := make([]byte, 10)
	header[0] = checkpointVersion
	header[1] = byte(t.depth)
	binary.LittleEndian.PutUint64(header[2:10], t.NumLeaves())

	n, err := w.Write(header)
	total := int64(n)
	if err != nil {
		return total, fmt.Errorf("write header: %w", err)
	}

	buf := make([]byte, leafSize)
	for i, leaf := range t.levels[0] {
		leaf.FillBytes(buf)
		n, err := w.Write(buf)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("write leaf %d: %w", i, err)
		}
	}
	return total, nil
}

// ReadTree rebuilds a tree from a checkpoint written by WriteTo.
// Replaying the leaves reproduces the root bit for bit.
func ReadTree(r io.Reader) (*Tree, error) {
	header := make([]byte, 10)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header[0] != checkpointVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedFormatVersion, header[0], checkpointVersion)
	}

	t, err := New(uint(header[1]))
	if err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint64(header[2:10])
	if count > t.Capacity() {
		return nil, fmt.Errorf("checkpoint holds %d leaves, depth %d allows %d", count, t.depth, t.Capacity())
	}

	buf := make([]byte, leafSize)
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read leaf %d: %w", i, err)
		}
		if _, err := t.Insert(new(big.Int).SetBytes(buf)); err != nil {
			return nil, fmt.Errorf("replay leaf %d: %w", i, err)
		}
	}
	return t, nil
}

// SaveFile writes the checkpoint to path atomically.
func (t *Tree) SaveFile(path string) error {
	var buf bytes.Buffer
	if _, err := t.WriteTo(&buf); err != nil {
		return err
	}
	return atomicfile.WriteFile(path, buf.Bytes(), 0600)
}

// LoadFile reads a checkpoint written by SaveFile.
func LoadFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ReadTree(bytes.NewReader(data))
}
