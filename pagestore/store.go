// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package pagestore implements the paged, file-backed, epoch-durable
// storage described in spec.md §4.1: chunks addressed by an opaque
// multi-part key, a free list per page-size class, and checkpoint-based
// durability that lets a caller reopen the store pinned to any earlier
// committed epoch.
package pagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sneller-contrib/coredb/internal/xlog"
)

// pageEntry is one page of a chunk's logical byte stream, in the
// in-memory chunk->page table rebuilt from on-disk headers at open
// (spec.md §4.1 algorithms).
type pageEntry struct {
	ref           PageRef
	logicalOffset int64
	usedLen       int
	epoch         uint64
}

type chunkMeta struct {
	key          ChunkKey
	pageSize     int
	createdEpoch uint64 // 0 == pending (not yet checkpointed)
	deletedEpoch uint64 // 0 == not deleted
	deletePend   bool
	live         bool // immediate in-session liveness, independent of epoch
	pages        []pageEntry
	size         int64
	meta         []byte
}

// Store is the page-addressed, epoch-durable backing store for chunk
// buffers (spec.md §4.1).
type Store struct {
	mu       sync.Mutex
	dir      string
	growth   int
	journal  *journal
	files    map[int]*pageFile // by page size class
	freeList map[int][]uint32  // by page size class
	chunks   map[ChunkKey]*chunkMeta

	epoch     uint64 // latest fully-committed epoch
	viewEpoch uint64 // epoch this handle is pinned to (== epoch unless opened historically)
	pinned    bool

	dirtyPages int
	closed     bool

	// CompressCheckpoints zstd-compresses the chunk directory written
	// by Checkpoint. Off by default; callers toggle it after Open based
	// on internal/config's COREDB_COMPRESS_CHECKPOINTS.
	CompressCheckpoints bool
}

// Open opens (or creates) a store rooted at dir. atEpoch < 0 opens at
// the latest committed epoch; atEpoch >= 0 pins the view to that epoch
// (spec.md §4.1: "Opening with explicit epoch e restricts visibility to
// the state at epoch e").
func Open(dir string, growthStepPages int, atEpoch int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	j, err := openJournal(filepath.Join(dir, "journal"))
	if err != nil {
		return nil, err
	}
	records, err := j.recover()
	if err != nil {
		j.close()
		return nil, err
	}
	committed := uint64(0)
	if len(records) > 0 {
		committed = records[len(records)-1].Epoch
	}
	view := committed
	pinned := false
	if atEpoch >= 0 {
		pinned = true
		view = uint64(atEpoch)
		if view > committed {
			view = committed
		}
	}

	s := &Store{
		dir:       dir,
		growth:    growthStepPages,
		journal:   j,
		files:     map[int]*pageFile{},
		freeList:  map[int][]uint32{},
		chunks:    map[ChunkKey]*chunkMeta{},
		epoch:     committed,
		viewEpoch: view,
		pinned:    pinned,
	}

	recs, err := readMetaFile(dir)
	if err != nil {
		j.close()
		return nil, err
	}
	for _, r := range recs {
		cm := &chunkMeta{
			key:          r.Key,
			pageSize:     r.PageSize,
			createdEpoch: r.CreatedEpoch,
			deletedEpoch: r.DeletedEpoch,
			meta:         r.Meta,
		}
		cm.live = cm.createdEpoch != 0 && cm.createdEpoch <= view &&
			(cm.deletedEpoch == 0 || cm.deletedEpoch > view)
		s.chunks[r.Key] = cm
	}

	if err := s.discoverPageFiles(); err != nil {
		j.close()
		return nil, err
	}
	if err := s.scanPages(); err != nil {
		j.close()
		return nil, err
	}
	for _, cm := range s.chunks {
		sort.Slice(cm.pages, func(i, k int) bool {
			return cm.pages[i].logicalOffset < cm.pages[k].logicalOffset
		})
		var size int64
		for _, p := range cm.pages {
			size += int64(p.usedLen)
		}
		cm.size = size
	}
	return s, nil
}

func pageFileName(pageSize int) string {
	return fmt.Sprintf("pages-%d.dat", pageSize)
}

func (s *Store) discoverPageFiles() error {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "pages-") || !strings.HasSuffix(name, ".dat") {
			continue
		}
		sizeStr := strings.TrimSuffix(strings.TrimPrefix(name, "pages-"), ".dat")
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			continue
		}
		pf, err := openPageFile(filepath.Join(s.dir, name), size)
		if err != nil {
			return err
		}
		s.files[size] = pf
	}
	return nil
}

// scanPages rebuilds the chunk->page table and free lists from on-disk
// page headers alone (spec.md §4.1: "Chunk→page mapping stored in an
// in-memory table rebuilt from on-disk headers at open").
func (s *Store) scanPages() error {
	for size, pf := range s.files {
		for id := uint32(0); id < pf.pageCap; id++ {
			h, err := pf.readPageHeader(id)
			if err != nil {
				return err
			}
			switch h.Status {
			case StatusFree:
				s.freeList[size] = append(s.freeList[size], id)
			case StatusLive:
				visible := h.Epoch != 0 && h.Epoch <= s.viewEpoch &&
					(h.DeadEpoch == 0 || h.DeadEpoch > s.viewEpoch)
				if visible {
					cm := s.chunkFor(h.Key, size)
					cm.pages = append(cm.pages, pageEntry{
						ref:           PageRef{PageID: id},
						logicalOffset: h.LogicalOffset,
						usedLen:       int(h.UsedLen),
						epoch:         h.Epoch,
					})
				}
			case StatusDead:
				// Recycle only once we're looking at the latest state
				// and an epoch strictly greater than the dead epoch is
				// durable (spec.md §4.1 state machine).
				if !s.pinned && h.DeadEpoch != 0 && h.DeadEpoch < s.viewEpoch {
					s.freeList[size] = append(s.freeList[size], id)
				}
			}
		}
	}
	return nil
}

func (s *Store) chunkFor(key ChunkKey, pageSize int) *chunkMeta {
	cm, ok := s.chunks[key]
	if !ok {
		cm = &chunkMeta{key: key, pageSize: pageSize}
		s.chunks[key] = cm
	}
	return cm
}

func (s *Store) pageFile(pageSize int) (*pageFile, error) {
	if pf, ok := s.files[pageSize]; ok {
		return pf, nil
	}
	pf, err := openPageFile(filepath.Join(s.dir, pageFileName(pageSize)), pageSize)
	if err != nil {
		return nil, err
	}
	s.files[pageSize] = pf
	return pf, nil
}

// RequestFreePage allocates one page of the given size class, growing
// the backing file by the configured growth step if the free list is
// exhausted (spec.md §4.1: "Allocation is O(1) amortized; exhaustion
// extends the backing file by a configured growth step").
func (s *Store) RequestFreePage(pageSize int) (PageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestFreePageLocked(pageSize)
}

func (s *Store) requestFreePageLocked(pageSize int) (PageRef, error) {
	free := s.freeList[pageSize]
	if len(free) == 0 {
		pf, err := s.pageFile(pageSize)
		if err != nil {
			return PageRef{}, err
		}
		step := s.growth
		if step <= 0 {
			step = 1
		}
		ids, err := pf.grow(step)
		if err != nil {
			return PageRef{}, err
		}
		s.freeList[pageSize] = append(s.freeList[pageSize], ids...)
		free = s.freeList[pageSize]
	}
	id := free[len(free)-1]
	s.freeList[pageSize] = free[:len(free)-1]
	return PageRef{PageID: id}, nil
}

// RequestFreePages appends n pages of pageSize to out, rolling back any
// pages it already allocated if a later allocation in the batch fails
// with NoSpace (spec.md §4.1).
func (s *Store) RequestFreePages(n int, pageSize int, out *[]PageRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	got := make([]PageRef, 0, n)
	for i := 0; i < n; i++ {
		ref, err := s.requestFreePageLocked(pageSize)
		if err != nil {
			s.freeList[pageSize] = append(s.freeList[pageSize], refIDs(got)...)
			return err
		}
		got = append(got, ref)
	}
	*out = append(*out, got...)
	return nil
}

func refIDs(refs []PageRef) []uint32 {
	ids := make([]uint32, len(refs))
	for i, r := range refs {
		ids[i] = r.PageID
	}
	return ids
}

// CreateChunk creates a new, empty chunk buffer for key, failing with
// ErrAlreadyExists if a live chunk for key already exists.
func (s *Store) CreateChunk(key ChunkKey, pageSize int) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cm, ok := s.chunks[key]; ok && cm.live {
		return nil, ErrAlreadyExists
	}
	cm := &chunkMeta{key: key, pageSize: pageSize, live: true}
	s.chunks[key] = cm
	return &Chunk{store: s, key: key}, nil
}

// GetChunk returns a handle to an existing live chunk.
func (s *Store) GetChunk(key ChunkKey) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cm, ok := s.chunks[key]
	if !ok || !cm.live {
		return nil, ErrNotFound
	}
	return &Chunk{store: s, key: key}, nil
}

// DeleteChunk marks key dead immediately (logical delete; compaction of
// the underlying pages is deferred to the recycling rule in §4.1).
func (s *Store) DeleteChunk(key ChunkKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cm, ok := s.chunks[key]
	if !ok || !cm.live {
		return ErrNotFound
	}
	cm.live = false
	cm.deletePend = true
	return nil
}

// Checkpoint atomically publishes all writes since the last checkpoint
// at a new epoch (spec.md §4.1/§6): dirty page headers get the new
// epoch stamped in, the chunk directory is rewritten, and a journal
// record is appended and fsynced last, so a crash mid-checkpoint leaves
// the previous epoch as the latest fully-committed one.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned {
		return fmt.Errorf("pagestore: cannot checkpoint a store opened at a historical epoch")
	}
	newEpoch := s.epoch + 1
	dirty := 0
	for _, cm := range s.chunks {
		if len(cm.pages) == 0 {
			if cm.createdEpoch == 0 {
				cm.createdEpoch = newEpoch
			}
			if cm.deletePend {
				cm.deletedEpoch = newEpoch
				cm.deletePend = false
			}
			continue
		}
		pf, err := s.pageFile(cm.pageSize)
		if err != nil {
			return err
		}
		for i := range cm.pages {
			p := &cm.pages[i]
			if p.epoch != 0 {
				continue
			}
			h, err := pf.readPageHeader(p.ref.PageID)
			if err != nil {
				return err
			}
			h.Epoch = newEpoch
			if err := pf.writePageHeader(p.ref.PageID, h); err != nil {
				return err
			}
			p.epoch = newEpoch
			dirty++
		}
		if cm.createdEpoch == 0 {
			cm.createdEpoch = newEpoch
		}
		if cm.deletePend {
			cm.deletedEpoch = newEpoch
			cm.deletePend = false
		}
	}
	for _, pf := range s.files {
		if err := pf.sync(); err != nil {
			return err
		}
	}
	if err := writeMetaFile(s.dir, s.chunkRecords(), s.CompressCheckpoints); err != nil {
		return err
	}
	rec := journalRecord{Epoch: newEpoch, Timestamp: time.Now().Unix(), DirtyPageCount: uint32(dirty)}
	if err := s.journal.append(rec); err != nil {
		return err
	}
	s.epoch = newEpoch
	s.viewEpoch = newEpoch
	xlog.Tracefn("pagestore: checkpoint epoch=%d dirty_pages=%d", newEpoch, dirty)
	return nil
}

func (s *Store) chunkRecords() []chunkRecord {
	out := make([]chunkRecord, 0, len(s.chunks))
	for _, cm := range s.chunks {
		out = append(out, chunkRecord{
			Key:          cm.key,
			PageSize:     cm.pageSize,
			CreatedEpoch: cm.createdEpoch,
			DeletedEpoch: cm.deletedEpoch,
			Meta:         cm.meta,
		})
	}
	return out
}

// Close releases all open file handles. It does not checkpoint pending
// writes.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var first error
	for _, pf := range s.files {
		if err := pf.close(); err != nil && first == nil {
			first = err
		}
	}
	if err := s.journal.close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Epoch returns the epoch this store handle is currently pinned to.
func (s *Store) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewEpoch
}
