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
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// journalRecordLen is epoch(8) + timestamp(8) + dirtyPageCount(4) +
// checksum(16, the first 16 bytes of blake2b-512), per spec.md §6: "a separate journal file
// records epoch transitions as (epoch, timestamp, dirty_page_count)
// records; the last fully-written journal record defines the visible
// epoch."
const journalRecordLen = 8 + 8 + 4 + 16

type journalRecord struct {
	Epoch           uint64
	Timestamp       int64
	DirtyPageCount  uint32
}

func (r journalRecord) marshal() [journalRecordLen]byte {
	var out [journalRecordLen]byte
	binary.LittleEndian.PutUint64(out[0:8], r.Epoch)
	binary.LittleEndian.PutUint64(out[8:16], uint64(r.Timestamp))
	binary.LittleEndian.PutUint32(out[16:20], r.DirtyPageCount)
	sum := blake2b.Sum512(out[0:20])
	copy(out[20:36], sum[:16])
	return out
}

func unmarshalJournalRecord(b [journalRecordLen]byte) (journalRecord, bool) {
	sum := blake2b.Sum512(b[0:20])
	if string(sum[:16]) != string(b[20:36]) {
		return journalRecord{}, false
	}
	return journalRecord{
		Epoch:          binary.LittleEndian.Uint64(b[0:8]),
		Timestamp:      int64(binary.LittleEndian.Uint64(b[8:16])),
		DirtyPageCount: binary.LittleEndian.Uint32(b[16:20]),
	}, true
}

// journal appends epoch-transition records and recovers the highest
// fully-committed epoch at open. A torn write (a record whose checksum
// fails, or a short trailing read) is treated as "not durable" rather
// than a hard I/O error, so recovery degrades gracefully to the last
// good record instead of rejecting the whole store.
type journal struct {
	f *os.File
}

func openJournal(path string) (*journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &journal{f: f}, nil
}

// recover scans the journal and returns its valid records in order; the
// last one carries the highest fully-committed epoch. Reading stops at
// the first invalid or short record.
func (j *journal) recover() ([]journalRecord, error) {
	var out []journalRecord
	var buf [journalRecordLen]byte
	off := int64(0)
	for {
		n, err := j.f.ReadAt(buf[:], off)
		if n == journalRecordLen {
			rec, ok := unmarshalJournalRecord(buf)
			if !ok {
				break
			}
			out = append(out, rec)
			off += journalRecordLen
			continue
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return out, err
		}
		break
	}
	return out, nil
}

func (j *journal) append(rec journalRecord) error {
	b := rec.marshal()
	info, err := j.f.Stat()
	if err != nil {
		return err
	}
	if _, err := j.f.WriteAt(b[:], info.Size()); err != nil {
		return err
	}
	return j.f.Sync()
}

func (j *journal) close() error { return j.f.Close() }
