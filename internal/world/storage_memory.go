package world

import "sync"

type memoryTileStore struct {
	mu    sync.RWMutex
	tiles map[TileKey][]float32
}

// NewMemoryTileStore returns a TileStore that lives for the process lifetime.
func NewMemoryTileStore() TileStore {
	return &memoryTileStore{tiles: make(map[TileKey][]float32)}
}

func (m *memoryTileStore) Load(key TileKey) ([]float32, bool, error) {
	m.mu.RLock()
	heights, ok := m.tiles[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	dup := make([]float32, len(heights))
	copy(dup, heights)
	return dup, true, nil
}

func (m *memoryTileStore) Save(key TileKey, heights []float32) error {
	dup := make([]float32, len(heights))
	copy(dup, heights)
	m.mu.Lock()
	m.tiles[key] = dup
	m.mu.Unlock()
	return nil
}

func (m *memoryTileStore) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tiles), nil
}

func (m *memoryTileStore) Close() error {
	return nil
}
