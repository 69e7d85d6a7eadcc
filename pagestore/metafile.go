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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sneller-contrib/coredb/compr"
)

// chunkRecord is the persisted lifecycle state of one chunk: when it
// was created and (if applicable) deleted, plus an opaque metadata blob
// the chunk-buffer layer uses to persist element counts/statistics
// across a reopen without needing its own durability mechanism.
type chunkRecord struct {
	Key           ChunkKey
	PageSize      int
	CreatedEpoch  uint64 // 0 == never published by a checkpoint
	DeletedEpoch  uint64 // 0 == not deleted
	Meta          []byte
}

const metaFileName = "chunks.meta"

// metaFlagCompressed marks the one-byte leading flag of the on-disk
// meta file body as zstd-compressed; metaFlagRaw leaves it untouched.
// The flag is self-describing so a store reopened with a different
// Store.CompressCheckpoints setting than the one that wrote the file
// still reads correctly.
const (
	metaFlagRaw byte = iota
	metaFlagCompressed
)

// writeMetaFile rewrites the full chunk directory atomically (write to
// a temp file, fsync, rename over the old one), the same "small trailer
// rewritten wholesale per commit" idiom the teacher's ion/blockfmt
// index uses for its own directory structures. When compress is set,
// the encoded body is zstd-compressed first (the chunk directory is the
// one variable-length, fully-rewritten-per-checkpoint structure in the
// store; page data is never compressed).
func writeMetaFile(dir string, recs []chunkRecord, compress bool) error {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(recs)))
	buf.Write(hdr[:])
	for _, r := range recs {
		kb := r.Key.Encode()
		buf.Write(kb[:])
		var fixed [24]byte
		binary.LittleEndian.PutUint64(fixed[0:8], uint64(r.PageSize))
		binary.LittleEndian.PutUint64(fixed[8:16], r.CreatedEpoch)
		binary.LittleEndian.PutUint64(fixed[16:24], r.DeletedEpoch)
		buf.Write(fixed[:])
		var mlen [4]byte
		binary.LittleEndian.PutUint32(mlen[:], uint32(len(r.Meta)))
		buf.Write(mlen[:])
		buf.Write(r.Meta)
	}

	payload := buf.Bytes()
	flag := metaFlagRaw
	body := payload
	if compress {
		if c := compr.Compression("zstd"); c != nil {
			body = c.Compress(payload, nil)
			flag = metaFlagCompressed
		}
	}

	var out bytes.Buffer
	out.WriteByte(flag)
	var lenHdr [4]byte
	binary.LittleEndian.PutUint32(lenHdr[:], uint32(len(payload)))
	out.Write(lenHdr[:])
	out.Write(body)

	tmp := filepath.Join(dir, metaFileName+".tmp")
	final := filepath.Join(dir, metaFileName)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(out.Bytes()); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func readMetaFile(dir string) ([]chunkRecord, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) < 5 {
		return nil, fmt.Errorf("pagestore: truncated meta file")
	}
	flag := raw[0]
	origLen := binary.LittleEndian.Uint32(raw[1:5])
	data := raw[5:]
	if flag == metaFlagCompressed {
		d := compr.Decompression("zstd")
		dst := make([]byte, origLen)
		if err := d.Decompress(data, dst); err != nil {
			return nil, fmt.Errorf("pagestore: decompressing meta file: %w", err)
		}
		data = dst
	}

	r := bytes.NewReader(data)
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(hdr[:])
	recs := make([]chunkRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		var kb [chunkKeyEncodedLen]byte
		if _, err := io.ReadFull(r, kb[:]); err != nil {
			return nil, err
		}
		key, err := DecodeKey(kb)
		if err != nil {
			return nil, err
		}
		var fixed [24]byte
		if _, err := io.ReadFull(r, fixed[:]); err != nil {
			return nil, err
		}
		var mlen [4]byte
		if _, err := io.ReadFull(r, mlen[:]); err != nil {
			return nil, err
		}
		meta := make([]byte, binary.LittleEndian.Uint32(mlen[:]))
		if _, err := io.ReadFull(r, meta); err != nil {
			return nil, err
		}
		recs = append(recs, chunkRecord{
			Key:          key,
			PageSize:     int(binary.LittleEndian.Uint64(fixed[0:8])),
			CreatedEpoch: binary.LittleEndian.Uint64(fixed[8:16]),
			DeletedEpoch: binary.LittleEndian.Uint64(fixed[16:24]),
			Meta:         meta,
		})
	}
	return recs, nil
}
