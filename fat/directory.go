package fat

import (
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/text/encoding"

	"github.com/dargueta/imagefs/errors"
	"github.com/dargueta/imagefs/internal/blockio"
	"github.com/dargueta/imagefs/internal/cluster"
)

// slotBackend is the storage strategy behind a Directory's raw byte
// region: either the fixed root area (FAT12/16) or a cluster chain (FAT32
// root, and every subdirectory on every variant). Spec.md §4.4 treats both
// as "an ordered array of 32-byte slots" and only the growth policy
// differs, so Directory itself is backend-agnostic.
type slotBackend interface {
	readAll() ([]byte, error)
	writeAll(data []byte) error
	// extend grows the backend by one cluster's worth of slots, or fails
	// with ErrNoSpace if it cannot (the fixed root region never can).
	extend() error
}

// rootBackend stores a FAT12/16 root directory in its fixed sector range.
type rootBackend struct {
	sectors     *blockio.SectorCache
	startSector uint
	numSectors  uint
}

// NewRootBackend constructs the fixed-region backend for a FAT12/16 root
// directory.
func NewRootBackend(sectors *blockio.SectorCache, startSector, numSectors uint) slotBackend {
	return &rootBackend{sectors: sectors, startSector: startSector, numSectors: numSectors}
}

func (b *rootBackend) readAll() ([]byte, error) {
	buf := make([]byte, b.numSectors*blockio.SectorSize)
	if err := b.sectors.ReadSectors(b.startSector, b.numSectors, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (b *rootBackend) writeAll(data []byte) error {
	return b.sectors.WriteSectors(b.startSector, data)
}

func (b *rootBackend) extend() error {
	return errors.ErrNoSpace.WithMessage("fixed root directory region cannot be extended")
}

// chainBackend stores a directory's slots across a cluster chain.
type chainBackend struct {
	reader *cluster.Reader
	table  *Table
	head   ClusterID
}

func (b *chainBackend) readAll() ([]byte, error) {
	chain, err := b.table.Chain(b.head)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(chain)*int(b.reader.BytesPerCluster()))
	for _, c := range chain {
		data, err := b.reader.ReadCluster(cluster.ID(c))
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

func (b *chainBackend) writeAll(data []byte) error {
	chain, err := b.table.Chain(b.head)
	if err != nil {
		return err
	}
	bpc := int(b.reader.BytesPerCluster())
	for i, c := range chain {
		start := i * bpc
		end := start + bpc
		if start >= len(data) {
			break
		}
		if end > len(data) {
			end = len(data)
		}
		clusterBuf := make([]byte, bpc)
		copy(clusterBuf, data[start:end])
		if err := b.reader.WriteCluster(cluster.ID(c), clusterBuf); err != nil {
			return err
		}
	}
	return nil
}

func (b *chainBackend) extend() error {
	chain, err := b.table.Chain(b.head)
	if err != nil {
		return err
	}
	tail := b.head
	if len(chain) > 0 {
		tail = chain[len(chain)-1]
	}
	newTail, err := b.table.ExtendChain(tail)
	if err != nil {
		return err
	}
	zero := make([]byte, b.reader.BytesPerCluster())
	return b.reader.WriteCluster(cluster.ID(newTail), zero)
}

// Directory is the in-memory model of one FAT directory's contents:
// spec.md §4.4. It owns no path knowledge; the façade in filesystem.go
// walks a tree of Directory instances keyed by first cluster.
type Directory struct {
	backend     slotBackend
	oem         encoding.Encoding
	loc         *time.Location
	headCluster ClusterID // 0 for the FAT12/16 fixed root
}

// NewDirectory wraps a slot backend with name normalization settings.
func NewDirectory(backend slotBackend, oem encoding.Encoding, loc *time.Location, head ClusterID) *Directory {
	return &Directory{backend: backend, oem: oem, loc: loc, headCluster: head}
}

// HeadCluster returns the first cluster of this directory's chain, or 0
// for the FAT12/16 fixed root (which has no cluster of its own).
func (d *Directory) HeadCluster() ClusterID { return d.headCluster }

// slotGroup is one parsed unit in the raw slot stream: either a single
// short entry (possibly preceded by LFN slots) or a free/deleted run.
type slotGroup struct {
	entry     Entry
	raw       rawShortEntry
	startSlot int // index of the first LFN slot, or the short slot if none
	numSlots  int // total slots consumed including the short entry
	free      bool
	lastFree  bool // true once a 0x00 marker is hit; everything after is free too
}

// parseSlots walks the raw directory bytes into a sequence of slotGroups.
func (d *Directory) parseSlots(raw []byte) []slotGroup {
	numSlots := len(raw) / DirentSize
	var groups []slotGroup
	var pendingLFN [][]byte
	pendingStart := -1

	for i := 0; i < numSlots; i++ {
		slot := raw[i*DirentSize : (i+1)*DirentSize]

		if isFreeFirstByte(slot[0]) {
			groups = append(groups, slotGroup{free: true, lastFree: true, startSlot: i, numSlots: 1})
			pendingLFN = nil
			pendingStart = -1
			continue
		}

		if slot[11] == lfnAttribute {
			if pendingStart == -1 {
				pendingStart = i
			}
			pendingLFN = append(pendingLFN, slot)
			continue
		}

		raw := parseRawShortEntry(slot)
		deleted := isDeletedFirstByte(slot[0])

		group := slotGroup{raw: raw, free: deleted}
		if deleted {
			group.startSlot = i
			group.numSlots = 1
			groups = append(groups, group)
			pendingLFN = nil
			pendingStart = -1
			continue
		}

		entry := rawToEntry(raw, d.loc)
		if len(pendingLFN) > 0 {
			if name, ok := DecodeLFN(pendingLFN, entry.ShortName); ok {
				entry.DisplayName = name
			}
		}
		if entry.DisplayName == "" {
			entry.DisplayName = decodeShortName(raw, d.oem)
		}

		start := i
		count := 1
		if pendingStart != -1 {
			start = pendingStart
			count = i - pendingStart + 1
		}
		entry.slotIndex = i
		entry.lfnSlotCount = count - 1

		groups = append(groups, slotGroup{
			entry:     entry,
			raw:       raw,
			startSlot: start,
			numSlots:  count,
		})
		pendingLFN = nil
		pendingStart = -1
	}

	return groups
}

// normalizeShortKey uppercases and pads an 11-byte packed short name for
// case-insensitive comparison, per spec.md §4.4's "case-fold to OEM
// uppercase, pad short-name 8.3 form" rule.
func normalizeShortKey(packed [11]byte) [11]byte {
	var out [11]byte
	for i, b := range packed {
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		out[i] = b
	}
	return out
}

func normalizeDisplayName(name string) string {
	return strings.ToUpper(name)
}

// List returns every live entry in the directory, in on-disk order,
// excluding "." and "..".
func (d *Directory) List() ([]Entry, error) {
	raw, err := d.backend.readAll()
	if err != nil {
		return nil, err
	}
	groups := d.parseSlots(raw)

	var out []Entry
	for _, g := range groups {
		if g.free || g.lastFree {
			continue
		}
		if g.entry.DisplayName == "." || g.entry.DisplayName == ".." {
			continue
		}
		out = append(out, g.entry)
	}
	return out, nil
}

// findByNormalizedName locates an entry by case-insensitive name, matching
// either its display name (LFN-aware) or its short name. It also returns
// the parsed slot groups; if the name is absent the entry is Entry{} and
// the bool is false.
func (d *Directory) findByNormalizedName(name string) (Entry, []slotGroup, bool) {
	raw, err := d.backend.readAll()
	if err != nil {
		return Entry{}, nil, false
	}
	groups := d.parseSlots(raw)
	target := normalizeDisplayName(name)

	for _, g := range groups {
		if g.free || g.lastFree {
			continue
		}
		if normalizeDisplayName(g.entry.DisplayName) == target {
			return g.entry, groups, true
		}
		shortDisplay := decodeShortName(g.raw, d.oem)
		if normalizeDisplayName(shortDisplay) == target {
			return g.entry, groups, true
		}
	}
	return Entry{}, groups, false
}

// FindByName is the exported form of findByNormalizedName.
func (d *Directory) FindByName(name string) (Entry, bool) {
	entry, _, ok := d.findByNormalizedName(name)
	return entry, ok
}

// ShortNameExists reports whether candidate (an 11-byte packed 8.3 name)
// already belongs to a live entry in this directory. Callers use this with
// GenerateShortName to pick a collision-free numeric tail.
func (d *Directory) ShortNameExists(candidate [11]byte) bool {
	raw, err := d.backend.readAll()
	if err != nil {
		return true // fail closed: force the caller to pick another candidate
	}
	want := normalizeShortKey(candidate)
	for _, g := range d.parseSlots(raw) {
		if g.free || g.lastFree {
			continue
		}
		if normalizeShortKey(packRawName(g.raw)) == want {
			return true
		}
	}
	return false
}

// slotsNeeded returns how many 32-byte slots an entry with the given
// display name requires: one LFN slot per 13 UTF-16 units (when the name
// needs one) plus the short entry itself.
func slotsNeeded(displayName string) int {
	if !NeedsLFN(displayName) {
		return 1
	}
	unitCount := len(utf16.Encode([]rune(displayName))) + 1 // + NUL terminator
	lfnSlots := (unitCount + lfnUnitsPerSlot - 1) / lfnUnitsPerSlot
	return lfnSlots + 1
}

// AddEntry locates a run of free/deleted slots large enough for the
// display name's LFN group plus its short entry, extending the backing
// chain by one cluster if none is found (failing with ErrNoSpace if the
// backend can't grow, e.g. the FAT12/16 fixed root). Per spec.md §4.4.
func (d *Directory) AddEntry(displayName string, entry Entry) error {
	raw, err := d.backend.readAll()
	if err != nil {
		return err
	}
	groups := d.parseSlots(raw)

	needed := slotsNeeded(displayName)
	totalSlots := len(raw) / DirentSize

	slotIndex, ok := d.findFreeRun(groups, needed, totalSlots)
	if !ok {
		if err := d.backend.extend(); err != nil {
			return err
		}
		raw, err = d.backend.readAll()
		if err != nil {
			return err
		}
		groups = d.parseSlots(raw)
		totalSlots = len(raw) / DirentSize
		slotIndex, ok = d.findFreeRun(groups, needed, totalSlots)
		if !ok {
			return errors.ErrNoSpace.WithMessage("directory extension did not yield enough free slots")
		}
	}

	entry.DisplayName = displayName
	entry.slotIndex = slotIndex + needed - 1
	entry.lfnSlotCount = needed - 1

	lfnSlots := [][]byte{}
	if needed > 1 {
		lfnSlots = EncodeLFN(displayName, entry.ShortName)
	}

	rawEntry := entryToRaw(entry)
	shortBytes := rawEntry.bytes()

	out := make([]byte, len(raw))
	copy(out, raw)
	for len(out) < (slotIndex+needed)*DirentSize {
		out = append(out, make([]byte, DirentSize)...)
	}

	cursor := slotIndex
	for _, slot := range lfnSlots {
		copy(out[cursor*DirentSize:(cursor+1)*DirentSize], slot)
		cursor++
	}
	copy(out[cursor*DirentSize:(cursor+1)*DirentSize], shortBytes)

	return d.backend.writeAll(out)
}

// findFreeRun looks for `needed` consecutive free/deleted/end-of-region
// slots, returning the starting slot index. totalSlots bounds how far the
// trailing 0x00 terminator's "rest of region is free" rule may reach: it
// can only supply slots the backend already has allocated, never slots
// that don't physically exist yet.
func (d *Directory) findFreeRun(groups []slotGroup, needed int, totalSlots int) (int, bool) {
	run := 0
	runStart := 0
	for _, g := range groups {
		if g.free {
			if run == 0 {
				runStart = g.startSlot
			}
			run += g.numSlots
			if run >= needed {
				return runStart, true
			}
			if g.lastFree {
				// Once we hit the 0x00 terminator, every slot through the end
				// of the currently allocated region is free too.
				if totalSlots-runStart >= needed {
					return runStart, true
				}
				return 0, false
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// DeleteEntry marks the short slot and its LFN group as deleted (0xE5). If
// wipeChain is set, the cluster chain the entry pointed at is freed too.
func (d *Directory) DeleteEntry(name string, wipeChain bool, table *Table) error {
	entry, groups, ok := d.findByNormalizedName(name)
	if !ok {
		return errors.ErrNotFound.WithMessage("no such directory entry: " + name)
	}

	raw, err := d.backend.readAll()
	if err != nil {
		return err
	}

	var target slotGroup
	for _, g := range groups {
		if !g.free && !g.lastFree && g.entry.slotIndex == entry.slotIndex {
			target = g
			break
		}
	}

	for i := target.startSlot; i < target.startSlot+target.numSlots; i++ {
		raw[i*DirentSize] = deletedMarker
	}
	if err := d.backend.writeAll(raw); err != nil {
		return err
	}

	if wipeChain && table != nil {
		return table.FreeChain(entry.FirstCluster)
	}
	return nil
}

// UpdateEntry overwrites the short-entry fields of name in place, without
// touching its LFN group or position.
func (d *Directory) UpdateEntry(name string, updated Entry) error {
	entry, _, ok := d.findByNormalizedName(name)
	if !ok {
		return errors.ErrNotFound.WithMessage("no such directory entry: " + name)
	}

	raw, err := d.backend.readAll()
	if err != nil {
		return err
	}

	updated.ShortName = entry.ShortName
	rawEntry := entryToRaw(updated)
	slotStart := entry.slotIndex * DirentSize
	copy(raw[slotStart:slotStart+DirentSize], rawEntry.bytes())

	return d.backend.writeAll(raw)
}
