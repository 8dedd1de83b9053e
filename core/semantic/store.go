package semantic

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"unsafe"
)

// Store file format:
//
//	vectors file:  [Header: 16B][Vector0: dim*4B][Vector1: dim*4B]...
//	ids sidecar:   one entity id per line; line N names the vector in slot N
//
// The header is little-endian: dim uint32, count uint64, flags uint32.
const (
	headerSize   = 16
	idsSuffix    = ".ids"
	bytesPerDim  = 4
	defaultPerms = 0o644
)

var (
	ErrStoreClosed       = errors.New("vector store is closed")
	ErrStoreReadonly     = errors.New("vector store is read-only")
	ErrStoreCorrupt      = errors.New("vector store corrupt")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrCapacityExceeded  = errors.New("vector store capacity exceeded")
	ErrDuplicateEntity   = errors.New("entity already has a vector")
	ErrInvalidEntityID   = errors.New("invalid entity id")
	ErrInvalidDimension  = errors.New("invalid vector dimension")
	ErrInvalidCapacity   = errors.New("invalid vector capacity")
)

type storeHeader struct {
	Dim   uint32
	Count uint64
	Flags uint32
}

func (h *storeHeader) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Dim)
	binary.LittleEndian.PutUint64(buf[4:12], h.Count)
	binary.LittleEndian.PutUint32(buf[12:16], h.Flags)
}

func (h *storeHeader) unmarshal(buf []byte) {
	h.Dim = binary.LittleEndian.Uint32(buf[0:4])
	h.Count = binary.LittleEndian.Uint64(buf[4:12])
	h.Flags = binary.LittleEndian.Uint32(buf[12:16])
}

func vectorBytes(dim int) int64 {
	return int64(dim) * bytesPerDim
}

func vectorOffset(dim int, slot uint64) int64 {
	return headerSize + int64(slot)*vectorBytes(dim)
}

// Store holds one embedding vector per corpus entity in a flat mmap-backed
// file, with slot-to-entity-id assignments in a plain-text sidecar. Slots
// are append-only within an indexing epoch; a re-index builds a fresh store.
//
// Concurrent reads are safe. Appends take the write lock.
type Store struct {
	region   *mmapRegion
	header   storeHeader
	dim      int
	capacity uint64
	readonly bool

	ids     []string
	slots   map[string]uint32
	idsFile *os.File

	norms *magnitudeCache

	mu sync.RWMutex
}

// CreateStore creates a new empty vector store at path, sized for capacity
// vectors of width dim. An existing store at path is truncated.
func CreateStore(path string, dim, capacity int) (*Store, error) {
	if dim <= 0 {
		return nil, ErrInvalidDimension
	}
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	totalSize := headerSize + int64(capacity)*vectorBytes(dim)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("semantic: remove stale store: %w", err)
	}

	region, err := mapFile(path, totalSize, false)
	if err != nil {
		return nil, fmt.Errorf("semantic: create store: %w", err)
	}

	header := storeHeader{Dim: uint32(dim)}
	header.marshal(region.Data()[:headerSize])

	idsFile, err := os.OpenFile(path+idsSuffix, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, defaultPerms)
	if err != nil {
		_ = region.Close()
		return nil, fmt.Errorf("semantic: create ids sidecar: %w", err)
	}

	return &Store{
		region:   region,
		header:   header,
		dim:      dim,
		capacity: uint64(capacity),
		ids:      make([]string, 0, capacity),
		slots:    make(map[string]uint32, capacity),
		idsFile:  idsFile,
		norms:    newMagnitudeCache(capacity),
	}, nil
}

// OpenStore opens an existing store read-only for serving queries.
func OpenStore(path string) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("semantic: stat store: %w", err)
	}
	if info.Size() < headerSize {
		return nil, fmt.Errorf("semantic: %w: file too small (%d bytes)", ErrStoreCorrupt, info.Size())
	}

	region, err := mapFile(path, info.Size(), true)
	if err != nil {
		return nil, fmt.Errorf("semantic: open store: %w", err)
	}

	var header storeHeader
	header.unmarshal(region.Data()[:headerSize])

	if header.Dim == 0 {
		_ = region.Close()
		return nil, fmt.Errorf("semantic: %w: zero dimension", ErrStoreCorrupt)
	}
	maxCount := uint64((info.Size() - headerSize) / vectorBytes(int(header.Dim)))
	if header.Count > maxCount {
		_ = region.Close()
		return nil, fmt.Errorf("semantic: %w: header count %d exceeds file capacity %d", ErrStoreCorrupt, header.Count, maxCount)
	}

	ids, err := readIDs(path + idsSuffix)
	if err != nil {
		_ = region.Close()
		return nil, err
	}
	if uint64(len(ids)) != header.Count {
		_ = region.Close()
		return nil, fmt.Errorf("semantic: %w: %d ids for %d vectors", ErrStoreCorrupt, len(ids), header.Count)
	}

	slots := make(map[string]uint32, len(ids))
	for i, id := range ids {
		if _, dup := slots[id]; dup {
			_ = region.Close()
			return nil, fmt.Errorf("semantic: %w: duplicate entity %q", ErrStoreCorrupt, id)
		}
		slots[id] = uint32(i)
	}

	return &Store{
		region:   region,
		header:   header,
		dim:      int(header.Dim),
		capacity: maxCount,
		readonly: true,
		ids:      ids,
		slots:    slots,
		norms:    newMagnitudeCache(len(ids)),
	}, nil
}

func readIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("semantic: open ids sidecar: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ids = append(ids, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("semantic: read ids sidecar: %w", err)
	}
	return ids, nil
}

// Append stores the vector for an entity and returns its slot.
func (s *Store) Append(entityID string, vector []float32) (uint32, error) {
	if entityID == "" || strings.ContainsRune(entityID, '\n') {
		return 0, ErrInvalidEntityID
	}
	if len(vector) != s.dim {
		return 0, fmt.Errorf("%w: store is %d-wide, vector is %d", ErrDimensionMismatch, s.dim, len(vector))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.region == nil {
		return 0, ErrStoreClosed
	}
	if s.readonly {
		return 0, ErrStoreReadonly
	}
	if _, exists := s.slots[entityID]; exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateEntity, entityID)
	}
	if s.header.Count >= s.capacity {
		return 0, ErrCapacityExceeded
	}

	data := s.region.Data()
	if data == nil {
		return 0, ErrStoreClosed
	}

	slot := uint32(s.header.Count)
	offset := vectorOffset(s.dim, s.header.Count)
	dst := data[offset : offset+vectorBytes(s.dim)]
	for i, v := range vector {
		binary.LittleEndian.PutUint32(dst[i*bytesPerDim:], floatBits(v))
	}

	if _, err := s.idsFile.WriteString(entityID + "\n"); err != nil {
		return 0, fmt.Errorf("semantic: append id: %w", err)
	}

	s.header.Count++
	binary.LittleEndian.PutUint64(data[4:12], s.header.Count)
	s.ids = append(s.ids, entityID)
	s.slots[entityID] = slot

	return slot, nil
}

// Vector returns the vector in a slot without copying. The slice aliases
// the mmap region and must not be modified or retained past Close.
func (s *Store) Vector(slot uint32) []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.region == nil || uint64(slot) >= s.header.Count {
		return nil
	}
	data := s.region.Data()
	if data == nil {
		return nil
	}

	offset := vectorOffset(s.dim, uint64(slot))
	ptr := unsafe.Pointer(&data[offset])
	return unsafe.Slice((*float32)(ptr), s.dim)
}

// EntityID returns the entity occupying a slot, "" when out of range.
func (s *Store) EntityID(slot uint32) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if uint64(slot) >= uint64(len(s.ids)) {
		return ""
	}
	return s.ids[slot]
}

// Slot returns the slot holding an entity's vector.
func (s *Store) Slot(entityID string) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[entityID]
	return slot, ok
}

// Norm returns the cached L2 norm of the vector in a slot, computing it on
// first access.
func (s *Store) Norm(slot uint32) float64 {
	vec := s.Vector(slot)
	if vec == nil {
		return 0
	}
	return s.norms.getOrCompute(slot, vec)
}

// Count returns the number of stored vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.header.Count)
}

// Dimension returns the vector width.
func (s *Store) Dimension() int {
	return s.dim
}

// Sync flushes vectors and ids to disk.
func (s *Store) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.region == nil {
		return ErrStoreClosed
	}
	if s.readonly {
		return nil
	}
	if err := s.region.Sync(); err != nil {
		return err
	}
	if err := s.idsFile.Sync(); err != nil {
		return fmt.Errorf("semantic: sync ids sidecar: %w", err)
	}
	return nil
}

// Close unmaps the vectors and closes the sidecar. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.region == nil {
		return nil
	}

	var errs []error
	if err := s.region.Close(); err != nil {
		errs = append(errs, err)
	}
	s.region = nil
	if s.idsFile != nil {
		if err := s.idsFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("semantic: close ids sidecar: %w", err))
		}
		s.idsFile = nil
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func floatBits(f float32) uint32 {
	return math.Float32bits(f)
}
