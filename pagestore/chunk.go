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

package pagestore

// Chunk is a handle to one logical byte stream: an ordered list of
// pages forming one column of one fragment (data model §3). chunkbuf.Buffer
// layers element-count/statistics/encoding bookkeeping on top of this
// raw byte-addressed view.
type Chunk struct {
	store *Store
	key   ChunkKey
}

func (c *Chunk) meta() *chunkMeta {
	return c.store.chunks[c.key]
}

// Size returns the chunk's current logical byte length.
func (c *Chunk) Size() int64 {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.meta().size
}

// Append appends len(data) bytes to the end of the chunk, allocating as
// many new pages of the chunk's page-size class as required.
func (c *Chunk) Append(data []byte) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	cm := c.meta()
	if cm.pageSize <= 0 {
		return ErrNotFound
	}
	pf, err := c.store.pageFile(cm.pageSize)
	if err != nil {
		return err
	}
	pos := 0
	for pos < len(data) {
		take := len(data) - pos
		if take > cm.pageSize {
			take = cm.pageSize
		}
		ref, err := c.store.requestFreePageLocked(cm.pageSize)
		if err != nil {
			return err
		}
		if err := pf.writePayload(ref.PageID, 0, data[pos:pos+take]); err != nil {
			return err
		}
		h := pageHeader{
			Key:           c.key,
			LogicalOffset: cm.size,
			Epoch:         0, // pending until next checkpoint
			UsedLen:       uint32(take),
			Status:        StatusLive,
		}
		if err := pf.writePageHeader(ref.PageID, h); err != nil {
			return err
		}
		cm.pages = append(cm.pages, pageEntry{
			ref:           ref,
			logicalOffset: cm.size,
			usedLen:       take,
		})
		cm.size += int64(take)
		pos += take
	}
	return nil
}

// WriteAt overwrites len(data) bytes starting at offset, which must lie
// entirely within the chunk's already-appended range (spec.md §4.2:
// "raw byte write at offset"). It may span more than one page.
func (c *Chunk) WriteAt(offset int64, data []byte) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	cm := c.meta()
	if offset < 0 || offset+int64(len(data)) > cm.size {
		return ErrOutOfRange
	}
	pf, err := c.store.pageFile(cm.pageSize)
	if err != nil {
		return err
	}
	remaining := data
	at := offset
	for len(remaining) > 0 {
		idx, within := locatePage(cm.pages, at)
		if idx < 0 {
			return ErrOutOfRange
		}
		p := cm.pages[idx]
		avail := p.usedLen - within
		n := avail
		if n > len(remaining) {
			n = len(remaining)
		}
		if err := pf.writePayload(p.ref.PageID, within, remaining[:n]); err != nil {
			return err
		}
		remaining = remaining[n:]
		at += int64(n)
	}
	return nil
}

// ReadAt reads n bytes starting at offset, failing with ErrOutOfRange on
// an over-read (spec.md §4.2).
func (c *Chunk) ReadAt(offset int64, n int) ([]byte, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	cm := c.meta()
	if offset < 0 || n < 0 || offset+int64(n) > cm.size {
		return nil, ErrOutOfRange
	}
	pf, err := c.store.pageFile(cm.pageSize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, n)
	remaining := n
	at := offset
	for remaining > 0 {
		idx, within := locatePage(cm.pages, at)
		if idx < 0 {
			return nil, ErrOutOfRange
		}
		p := cm.pages[idx]
		avail := p.usedLen - within
		take := avail
		if take > remaining {
			take = remaining
		}
		b, err := pf.readPayload(p.ref.PageID, within, take)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
		remaining -= take
		at += int64(take)
	}
	return out, nil
}

// locatePage returns the index of the page entry containing logical
// offset at, and the byte offset within that page's payload.
func locatePage(pages []pageEntry, at int64) (int, int) {
	for i, p := range pages {
		end := p.logicalOffset + int64(p.usedLen)
		if at >= p.logicalOffset && at < end {
			return i, int(at - p.logicalOffset)
		}
		if at == end && i == len(pages)-1 {
			// exactly at the end of the last page: zero-length reads land here
			return i, p.usedLen
		}
	}
	return -1, 0
}

// Meta returns the opaque metadata blob the chunk-buffer layer uses to
// persist element counts and statistics across a reopen.
func (c *Chunk) Meta() []byte {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return append([]byte(nil), c.meta().meta...)
}

// SetMeta replaces the chunk's opaque metadata blob. It takes effect
// immediately for GetChunk/Meta within this session and is persisted at
// the next Checkpoint.
func (c *Chunk) SetMeta(data []byte) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.meta().meta = append([]byte(nil), data...)
}

// Key returns the chunk's key.
func (c *Chunk) Key() ChunkKey { return c.key }
