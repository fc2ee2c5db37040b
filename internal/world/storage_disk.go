package world

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	diskOpSet byte = 1

	// op, x, y, fingerprint, payload size
	diskHeaderSize = 1 + 8 + 8 + 8 + 4
)

type diskRecordMeta struct {
	offset int64
	size   uint32
}

// diskTileStore is an append-only log of tile records. The in-memory index is
// rebuilt by replaying the log on open; later records win.
type diskTileStore struct {
	file    *os.File
	mu      sync.RWMutex
	records map[TileKey]diskRecordMeta
}

// NewDiskTileStore opens (or creates) the tile log at path.
func NewDiskTileStore(path string) (TileStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create tile directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tile file: %w", err)
	}
	store := &diskTileStore{
		file:    f,
		records: make(map[TileKey]diskRecordMeta),
	}
	if err := store.loadIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return store, nil
}

func encodeDiskHeader(op byte, key TileKey, size uint32) []byte {
	header := make([]byte, diskHeaderSize)
	header[0] = op
	binary.LittleEndian.PutUint64(header[1:9], uint64(int64(key.Offset.X)))
	binary.LittleEndian.PutUint64(header[9:17], uint64(int64(key.Offset.Y)))
	binary.LittleEndian.PutUint64(header[17:25], key.Fingerprint)
	binary.LittleEndian.PutUint32(header[25:29], size)
	return header
}

func decodeDiskHeader(header []byte) (byte, TileKey, uint32) {
	key := TileKey{
		Offset: Offset{
			X: int(int64(binary.LittleEndian.Uint64(header[1:9]))),
			Y: int(int64(binary.LittleEndian.Uint64(header[9:17]))),
		},
		Fingerprint: binary.LittleEndian.Uint64(header[17:25]),
	}
	return header[0], key, binary.LittleEndian.Uint32(header[25:29])
}

func (s *diskTileStore) loadIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind tile file: %w", err)
	}

	header := make([]byte, diskHeaderSize)
	var offset int64
	for {
		if _, err := io.ReadFull(s.file, header); err != nil {
			if err == io.EOF {
				break
			}
			if err == io.ErrUnexpectedEOF {
				return fmt.Errorf("truncated tile header: %w", err)
			}
			return fmt.Errorf("read tile header: %w", err)
		}
		op, key, size := decodeDiskHeader(header)
		recordOffset := offset
		offset += int64(len(header)) + int64(size)

		if _, err := s.file.Seek(int64(size), io.SeekCurrent); err != nil {
			return fmt.Errorf("seek past payload: %w", err)
		}
		if op != diskOpSet {
			return fmt.Errorf("unknown tile record op %d at %d", op, recordOffset)
		}
		s.records[key] = diskRecordMeta{offset: recordOffset, size: size}
	}
	return nil
}

func (s *diskTileStore) Load(key TileKey) ([]float32, bool, error) {
	s.mu.RLock()
	meta, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	header := make([]byte, diskHeaderSize)
	if _, err := s.file.ReadAt(header, meta.offset); err != nil {
		return nil, false, fmt.Errorf("read header at %d: %w", meta.offset, err)
	}
	op, stored, size := decodeDiskHeader(header)
	if op != diskOpSet || stored != key {
		return nil, false, nil
	}
	payload := make([]byte, size)
	if _, err := s.file.ReadAt(payload, meta.offset+int64(len(header))); err != nil {
		return nil, false, fmt.Errorf("read payload: %w", err)
	}
	heights, err := DecodeTile(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode tile %v: %w", key.Offset, err)
	}
	return heights, true, nil
}

func (s *diskTileStore) Save(key TileKey, heights []float32) error {
	payload := EncodeTile(heights)
	header := encodeDiskHeader(diskOpSet, key, uint32(len(payload)))

	s.mu.Lock()
	defer s.mu.Unlock()

	offset, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek tile end: %w", err)
	}
	if _, err := s.file.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := s.file.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync tile file: %w", err)
	}
	s.records[key] = diskRecordMeta{offset: offset, size: uint32(len(payload))}
	return nil
}

func (s *diskTileStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *diskTileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
