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

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/uuid"
)

const (
	fileMagic     = "CPGF"
	fileHeaderLen = 48
)

// pageFile is one page-size class's backing file: a small fixed header
// followed by fixed-size page slots (header + payload), per spec.md §6.
type pageFile struct {
	f        *os.File
	path     string
	pageSize int
	pageCap  uint32 // number of page slots currently allocated on disk
	gen      uuid.UUID
}

func slotSize(pageSize int) int64 { return int64(pageHeaderLen + pageSize) }

// openPageFile opens an existing page file or creates a new one sized
// for pageSize-byte pages.
func openPageFile(path string, pageSize int) (*pageFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	pf := &pageFile{f: f, path: path, pageSize: pageSize}
	if info.Size() == 0 {
		pf.gen = uuid.New()
		if err := pf.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		return pf, nil
	}
	if err := pf.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	if pf.pageSize != pageSize {
		f.Close()
		return nil, fmt.Errorf("%w: page size mismatch for %s", ErrCorrupt, path)
	}
	return pf, nil
}

func (pf *pageFile) writeHeader() error {
	var hdr [fileHeaderLen]byte
	copy(hdr[0:4], fileMagic)
	binary.LittleEndian.PutUint64(hdr[4:12], uint64(pf.pageSize))
	binary.LittleEndian.PutUint64(hdr[12:20], uint64(pf.pageCap))
	genBytes, _ := pf.gen.MarshalBinary()
	copy(hdr[20:36], genBytes)
	_, err := pf.f.WriteAt(hdr[:], 0)
	return err
}

func (pf *pageFile) readHeader() error {
	var hdr [fileHeaderLen]byte
	if _, err := pf.f.ReadAt(hdr[:], 0); err != nil {
		return err
	}
	if string(hdr[0:4]) != fileMagic {
		return fmt.Errorf("%w: bad page file magic in %s", ErrCorrupt, pf.path)
	}
	pf.pageSize = int(binary.LittleEndian.Uint64(hdr[4:12]))
	pf.pageCap = uint32(binary.LittleEndian.Uint64(hdr[12:20]))
	_ = pf.gen.UnmarshalBinary(hdr[20:36])
	return nil
}

// grow appends n new, Free-status page slots to the file.
func (pf *pageFile) grow(n int) ([]uint32, error) {
	newCap := pf.pageCap + uint32(n)
	size := fileHeaderLen + int64(newCap)*slotSize(pf.pageSize)
	if err := growFile(pf.f, size); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSpace, err)
	}
	ids := make([]uint32, 0, n)
	var free pageHeader
	free.Status = StatusFree
	hb := free.marshal()
	for i := uint32(0); i < uint32(n); i++ {
		id := pf.pageCap + i
		if _, err := pf.f.WriteAt(hb[:], pf.slotOffset(id)); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	pf.pageCap = newCap
	if err := pf.writeHeader(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (pf *pageFile) slotOffset(id uint32) int64 {
	return fileHeaderLen + int64(id)*slotSize(pf.pageSize)
}

func (pf *pageFile) readPageHeader(id uint32) (pageHeader, error) {
	var b [pageHeaderLen]byte
	if _, err := pf.f.ReadAt(b[:], pf.slotOffset(id)); err != nil {
		return pageHeader{}, err
	}
	h, ok := unmarshalPageHeader(b)
	if !ok {
		return pageHeader{}, ErrCorrupt
	}
	return h, nil
}

func (pf *pageFile) writePageHeader(id uint32, h pageHeader) error {
	b := h.marshal()
	_, err := pf.f.WriteAt(b[:], pf.slotOffset(id))
	return err
}

func (pf *pageFile) payloadOffset(id uint32) int64 {
	return pf.slotOffset(id) + pageHeaderLen
}

func (pf *pageFile) readPayload(id uint32, off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > pf.pageSize {
		return nil, ErrOutOfRange
	}
	buf := make([]byte, n)
	if _, err := pf.f.ReadAt(buf, pf.payloadOffset(id)+int64(off)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (pf *pageFile) writePayload(id uint32, off int, data []byte) error {
	if off < 0 || off+len(data) > pf.pageSize {
		return ErrOutOfRange
	}
	_, err := pf.f.WriteAt(data, pf.payloadOffset(id)+int64(off))
	return err
}

func (pf *pageFile) sync() error { return pf.f.Sync() }
func (pf *pageFile) close() error { return pf.f.Close() }
