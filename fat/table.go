package fat

import (
	"github.com/boljen/go-bitmap"

	"github.com/dargueta/imagefs/errors"
	"github.com/dargueta/imagefs/internal/blockio"
)

// ClusterID is a cluster number of a FAT volume, which doubles as the
// index of its allocation table entry. Values 0 and 1 are reserved
// sentinels; user data starts at 2, per spec.md §3.
type ClusterID uint32

const (
	// FreeCluster marks a cluster as unused.
	FreeCluster ClusterID = 0
	firstValidClusterID            = 2
)

// chainState classifies the meaning of a raw table entry, per spec.md §4.3.
type chainState int

const (
	stateFree chainState = iota
	stateNext
	stateEndOfChain
	stateBad
)

// Table is a buffered, lazily-loaded image of the on-disk FAT. It owns no
// knowledge of directories or files; it only tracks which clusters are
// free, in use, or bad, and the links between them.
//
// Grounded on the teacher's driverbase.go chain-walking helpers
// (listClusters, getClusterInChain) generalized into the standalone
// allocation table spec.md §4.3 asks for, since the teacher inlines FAT
// access behind the FATDriverCommon interface instead of extracting it.
type Table struct {
	variant    Variant
	sectors    *blockio.SectorCache
	bytesPerSector uint
	numFATs    uint
	firstFATSector uint // first sector of FAT copy 0
	fatSector  uint // first sector of the active FAT copy
	fatSectors uint // sectors per FAT copy
	mirror     bool

	entries    []uint32 // decoded entries, index == cluster number
	dirty      bool
	lastAllocHint ClusterID

	// allocated mirrors entries as a free/used bitmap so Allocate can scan
	// for a free cluster without walking the raw entry slice, matching the
	// teacher's drivers/common/allocatormap.go Allocator. True means the
	// cluster is in use; kept in sync by SetNext/MarkEndOfChain/MarkFree.
	allocated bitmap.Bitmap
}

// NewTable loads and decodes the active FAT copy into memory.
func NewTable(sectors *blockio.SectorCache, bs *BootSector) (*Table, error) {
	t := &Table{
		variant:        bs.Variant,
		sectors:        sectors,
		bytesPerSector: bs.BytesPerSector,
		numFATs:        bs.NumFATs,
		firstFATSector: bs.FirstFATSector,
		fatSector:      bs.FirstFATSector + bs.ActiveFATIndex*bs.SectorsPerFAT,
		fatSectors:     bs.SectorsPerFAT,
		mirror:         bs.MirrorFAT,
		entries:        make([]uint32, bs.TotalClusters+firstValidClusterID),
	}

	raw := make([]byte, bs.SectorsPerFAT*bs.BytesPerSector)
	if err := sectors.ReadSectors(t.fatSector, bs.SectorsPerFAT, raw); err != nil {
		return nil, err
	}

	for cluster := ClusterID(0); int(cluster) < len(t.entries); cluster++ {
		t.entries[cluster] = decodeEntry(t.variant, raw, uint32(cluster))
	}

	t.allocated = bitmap.NewSlice(len(t.entries))
	for cluster, value := range t.entries {
		if value != 0 {
			t.allocated.Set(cluster, true)
		}
	}
	return t, nil
}

func decodeEntry(v Variant, raw []byte, cluster uint32) uint32 {
	switch v {
	case Variant12:
		offset := cluster + cluster/2
		if int(offset)+1 >= len(raw) {
			return 0
		}
		packed := uint16(raw[offset]) | uint16(raw[offset+1])<<8
		if cluster%2 == 0 {
			return uint32(packed & 0x0FFF)
		}
		return uint32(packed >> 4)
	case Variant16:
		offset := cluster * 2
		return uint32(raw[offset]) | uint32(raw[offset+1])<<8
	default: // Variant32
		offset := cluster * 4
		v := uint32(raw[offset]) | uint32(raw[offset+1])<<8 | uint32(raw[offset+2])<<16 | uint32(raw[offset+3])<<24
		return v & 0x0FFFFFFF
	}
}

func encodeEntry(v Variant, raw []byte, cluster uint32, value uint32) {
	switch v {
	case Variant12:
		offset := cluster + cluster/2
		existing := uint16(raw[offset]) | uint16(raw[offset+1])<<8
		var packed uint16
		if cluster%2 == 0 {
			packed = (existing & 0xF000) | uint16(value&0x0FFF)
		} else {
			packed = (existing & 0x000F) | (uint16(value&0x0FFF) << 4)
		}
		raw[offset] = byte(packed)
		raw[offset+1] = byte(packed >> 8)
	case Variant16:
		offset := cluster * 2
		raw[offset] = byte(value)
		raw[offset+1] = byte(value >> 8)
	default: // Variant32
		offset := cluster * 4
		existingTop := raw[offset+3] & 0xF0
		raw[offset] = byte(value)
		raw[offset+1] = byte(value >> 8)
		raw[offset+2] = byte(value >> 16)
		raw[offset+3] = byte(value>>24)&0x0F | existingTop
	}
}

func (t *Table) endOfChainSentinel() uint32 {
	switch t.variant {
	case Variant12:
		return 0x0FFF
	case Variant16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

func (t *Table) badClusterSentinel() uint32 {
	switch t.variant {
	case Variant12:
		return 0x0FF7
	case Variant16:
		return 0xFFF7
	default:
		return 0x0FFFFFF7
	}
}

func (t *Table) classify(cluster ClusterID) chainState {
	v := t.entries[cluster]
	switch {
	case v == 0:
		return stateFree
	case t.isEndOfChainValue(v):
		return stateEndOfChain
	case v == t.badClusterSentinel():
		return stateBad
	default:
		return stateNext
	}
}

func (t *Table) isEndOfChainValue(v uint32) bool {
	switch t.variant {
	case Variant12:
		return v >= 0x0FF8
	case Variant16:
		return v >= 0xFFF8
	default:
		return v >= 0x0FFFFFF8
	}
}

// Next returns the successor of cluster in its chain. If cluster is the
// last cluster, it returns (0, errors.EndOfChain).
func (t *Table) Next(cluster ClusterID) (ClusterID, error) {
	if err := t.checkBounds(cluster); err != nil {
		return 0, err
	}
	switch t.classify(cluster) {
	case stateFree:
		return 0, errors.ErrCorrupt.WithMessage("cannot follow a free cluster")
	case stateEndOfChain:
		return 0, errors.EndOfChain
	case stateBad:
		return 0, errors.ErrCorrupt.WithMessage("cannot follow a bad cluster")
	default:
		return ClusterID(t.entries[cluster]), nil
	}
}

// SetNext writes value as the entry for cluster. value is FreeCluster or
// the next cluster's ID; use MarkEndOfChain to terminate a chain.
func (t *Table) SetNext(cluster ClusterID, value ClusterID) error {
	if err := t.checkBounds(cluster); err != nil {
		return err
	}
	t.entries[cluster] = uint32(value)
	t.allocated.Set(int(cluster), value != FreeCluster)
	t.dirty = true
	return nil
}

// MarkEndOfChain sets cluster's entry to the end-of-chain sentinel.
func (t *Table) MarkEndOfChain(cluster ClusterID) error {
	if err := t.checkBounds(cluster); err != nil {
		return err
	}
	t.entries[cluster] = t.endOfChainSentinel()
	t.allocated.Set(int(cluster), true)
	t.dirty = true
	return nil
}

// MarkFree sets cluster's entry to free.
func (t *Table) MarkFree(cluster ClusterID) error {
	if err := t.checkBounds(cluster); err != nil {
		return err
	}
	t.entries[cluster] = 0
	t.allocated.Set(int(cluster), false)
	t.dirty = true
	return nil
}

func (t *Table) checkBounds(cluster ClusterID) error {
	if int(cluster) < firstValidClusterID || int(cluster) >= len(t.entries) {
		return errors.ErrCorrupt.WithMessage("cluster index out of range")
	}
	return nil
}

// IsEndOfChain reports whether cluster's entry is an end-of-chain sentinel.
func (t *Table) IsEndOfChain(cluster ClusterID) bool {
	if int(cluster) >= len(t.entries) {
		return true
	}
	return t.classify(cluster) == stateEndOfChain
}

// Allocate finds a free cluster, marks it end-of-chain, and returns it.
// Search policy per spec.md §4.3: linear scan from the last-allocated
// hint, wrapping once; fails with ErrNoSpace if none are free. The scan
// itself walks t.allocated (a github.com/boljen/go-bitmap bitmap kept in
// sync with t.entries) rather than the raw entry slice, matching the
// teacher's drivers/common/allocatormap.go Allocator.findRun-style scan.
func (t *Table) Allocate() (ClusterID, error) {
	total := ClusterID(len(t.entries))
	start := t.lastAllocHint + 1
	if start < firstValidClusterID {
		start = firstValidClusterID
	}

	firstFree := func(from, to ClusterID) (ClusterID, bool) {
		for c := from; c < to; c++ {
			if !t.allocated.Get(int(c)) {
				return c, true
			}
		}
		return 0, false
	}

	c, ok := firstFree(start, total)
	if !ok {
		c, ok = firstFree(firstValidClusterID, start)
	}
	if !ok {
		return 0, errors.ErrNoSpace.WithMessage("no free clusters")
	}

	t.entries[c] = t.endOfChainSentinel()
	t.allocated.Set(int(c), true)
	t.dirty = true
	t.lastAllocHint = c
	return c, nil
}

// ExtendChain allocates a new cluster and links it after tail, returning
// the new tail.
func (t *Table) ExtendChain(tail ClusterID) (ClusterID, error) {
	next, err := t.Allocate()
	if err != nil {
		return 0, err
	}
	if err := t.SetNext(tail, next); err != nil {
		return 0, err
	}
	return next, nil
}

// FreeChain walks the chain starting at head, marking every cluster free.
// It stops (without failing) on a Bad cluster, and fails with ErrCorrupt
// if it detects a cycle.
func (t *Table) FreeChain(head ClusterID) error {
	if head == FreeCluster {
		return nil
	}

	visited := make(map[ClusterID]bool)
	current := head
	for {
		if visited[current] {
			return errors.ErrCorrupt.WithMessage("cycle detected while freeing cluster chain")
		}
		visited[current] = true

		state := t.classify(current)
		next := ClusterID(t.entries[current])
		if err := t.MarkFree(current); err != nil {
			return err
		}
		if state == stateBad || state == stateFree {
			return nil
		}
		if state == stateEndOfChain {
			return nil
		}
		current = next
	}
}

// Chain returns the full ordered list of clusters starting at head.
func (t *Table) Chain(head ClusterID) ([]ClusterID, error) {
	if head == FreeCluster {
		return nil, nil
	}
	var chain []ClusterID
	visited := make(map[ClusterID]bool)
	current := head
	for {
		if visited[current] {
			return nil, errors.ErrCorrupt.WithMessage("cycle detected in cluster chain")
		}
		visited[current] = true
		chain = append(chain, current)

		next, err := t.Next(current)
		if err == errors.EndOfChain {
			return chain, nil
		}
		if err != nil {
			return nil, err
		}
		current = next
	}
}

// FreeClusterCount returns the number of clusters currently marked free,
// used by the end-to-end "delete reclaims clusters" test (spec.md §8).
func (t *Table) FreeClusterCount() uint {
	var n uint
	for c := firstValidClusterID; c < len(t.entries); c++ {
		if t.entries[c] == 0 {
			n++
		}
	}
	return n
}

// Flush writes the in-memory table back to every FAT copy when the mirror
// flag is set, or only the active copy otherwise (spec.md §4.3).
func (t *Table) Flush() error {
	if !t.dirty {
		return nil
	}

	raw := make([]byte, t.fatSectors*t.bytesPerSector)
	for cluster := range t.entries {
		encodeEntry(t.variant, raw, uint32(cluster), t.entries[cluster])
	}

	if t.mirror {
		for i := uint(0); i < t.numFATs; i++ {
			sector := t.firstFATSector + i*t.fatSectors
			if err := t.sectors.WriteSectors(sector, raw); err != nil {
				return err
			}
		}
	} else {
		if err := t.sectors.WriteSectors(t.fatSector, raw); err != nil {
			return err
		}
	}

	return t.sectors.Flush()
}
