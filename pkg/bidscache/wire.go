// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package bidscache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
	"github.com/kraklabs/bidslayout/pkg/bidsindex"
)

// stringHeap deduplicates every string referenced by the columnar
// blocks (row paths and parts per §4.8) into one contiguous table,
// referenced elsewhere by index.
type stringHeap struct {
	strings []string
	index   map[string]uint32
}

func newStringHeap() *stringHeap {
	return &stringHeap{index: make(map[string]uint32)}
}

func (h *stringHeap) intern(s string) uint32 {
	if idx, ok := h.index[s]; ok {
		return idx
	}
	idx := uint32(len(h.strings))
	h.strings = append(h.strings, s)
	h.index[s] = idx
	return idx
}

func (h *stringHeap) at(idx uint32) string {
	if int(idx) >= len(h.strings) {
		return ""
	}
	return h.strings[idx]
}

func (h *stringHeap) writeTo(buf *bytes.Buffer) {
	writeUint32(buf, uint32(len(h.strings)))
	for _, s := range h.strings {
		writeUint32(buf, uint32(len(s)))
		buf.WriteString(s)
	}
}

func readStringHeap(r *bytes.Reader) (*stringHeap, error) {
	count, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	h := newStringHeap()
	for i := uint32(0); i < count; i++ {
		s, err := readLenPrefixedString(r)
		if err != nil {
			return nil, err
		}
		h.intern(s)
	}
	return h, nil
}

func writeUint8(buf *bytes.Buffer, v uint8) { buf.WriteByte(v) }

func readUint8(r *bytes.Reader) (uint8, error) { return r.ReadByte() }

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, errShortRead
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func writeUint32Slice(buf *bytes.Buffer, vals []uint32) {
	for _, v := range vals {
		writeUint32(buf, v)
	}
}

func readUint32Slice(r *bytes.Reader, n int) ([]uint32, error) {
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		v, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func writeLenPrefixedString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readLenPrefixedString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", errShortRead
	}
	return string(data), nil
}

func writeStrings(buf *bytes.Buffer, vals []string) {
	writeUint32(buf, uint32(len(vals)))
	for _, v := range vals {
		writeLenPrefixedString(buf, v)
	}
}

func readStrings(r *bytes.Reader) ([]string, error) {
	count, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, count)
	for i := uint32(0); i < count; i++ {
		s, err := readLenPrefixedString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// writeRLEColumn run-length-encodes a sparse per-row string column:
// consecutive rows sharing the same presence/value collapse into one
// run, referencing the string heap by index.
func writeRLEColumn(buf *bytes.Buffer, heap *stringHeap, n int, get func(i int) (string, bool)) {
	type run struct {
		length  uint32
		present bool
		idx     uint32
	}
	var runs []run
	for i := 0; i < n; i++ {
		val, ok := get(i)
		var idx uint32 = absentMarker
		if ok {
			idx = heap.intern(val)
		}
		if len(runs) > 0 {
			last := &runs[len(runs)-1]
			if last.present == ok && last.idx == idx {
				last.length++
				continue
			}
		}
		runs = append(runs, run{length: 1, present: ok, idx: idx})
	}
	writeUint32(buf, uint32(len(runs)))
	for _, r := range runs {
		writeUint32(buf, r.length)
		writeUint8(buf, boolByte(r.present))
		writeUint32(buf, r.idx)
	}
}

func readRLEColumn(r *bytes.Reader, heap *stringHeap, n int) ([]*string, error) {
	runCount, err := readUint32(r)
	if err != nil {
		return nil, bidserrors.NewCacheIncompatible("truncated column run count")
	}
	out := make([]*string, n)
	pos := 0
	for ri := uint32(0); ri < runCount; ri++ {
		length, err := readUint32(r)
		if err != nil {
			return nil, bidserrors.NewCacheIncompatible("truncated column run")
		}
		presentByte, err := readUint8(r)
		if err != nil {
			return nil, bidserrors.NewCacheIncompatible("truncated column run")
		}
		idx, err := readUint32(r)
		if err != nil {
			return nil, bidserrors.NewCacheIncompatible("truncated column run")
		}
		for i := uint32(0); i < length; i++ {
			if pos >= n {
				return nil, bidserrors.NewCacheIncompatible("column run overruns row count")
			}
			if presentByte != 0 {
				s := heap.at(idx)
				out[pos] = &s
			}
			pos++
		}
	}
	return out, nil
}

// writePartsBlock stores each row's unparsed path segments as a plain
// (non-RLE) list of heap indices: parts vary nearly per-file, so a
// run-length encoding would rarely collapse anything.
func writePartsBlock(buf *bytes.Buffer, heap *stringHeap, rows []bidsindex.Row) {
	for _, row := range rows {
		writeUint32(buf, uint32(len(row.Parsed.Parts)))
		for _, p := range row.Parsed.Parts {
			writeUint32(buf, heap.intern(p))
		}
	}
}

func readPartsBlock(r *bytes.Reader, heap *stringHeap, n int) ([][]string, error) {
	out := make([][]string, n)
	for i := 0; i < n; i++ {
		count, err := readUint32(r)
		if err != nil {
			return nil, bidserrors.NewCacheIncompatible("truncated parts block")
		}
		if count == 0 {
			continue
		}
		parts := make([]string, count)
		for j := uint32(0); j < count; j++ {
			idx, err := readUint32(r)
			if err != nil {
				return nil, bidserrors.NewCacheIncompatible("truncated parts block")
			}
			parts[j] = heap.at(idx)
		}
		out[i] = parts
	}
	return out, nil
}

func writeDatasets(buf *bytes.Buffer, datasets []bidsindex.Dataset) error {
	writeUint32(buf, uint32(len(datasets)))
	for _, ds := range datasets {
		writeLenPrefixedString(buf, ds.Root)
		writeLenPrefixedString(buf, ds.CanonicalRoot)
		writeUint8(buf, uint8(ds.Kind))

		if ds.Label != nil {
			writeUint8(buf, 1)
			writeLenPrefixedString(buf, *ds.Label)
		} else {
			writeUint8(buf, 0)
		}

		writeStrings(buf, ds.Pipelines)

		if ds.Description != nil {
			payload, err := json.Marshal(toBlob(ds.Description))
			if err != nil {
				return err
			}
			writeUint8(buf, 1)
			writeUint32(buf, uint32(len(payload)))
			buf.Write(payload)
		} else {
			writeUint8(buf, 0)
		}

		if ds.BadDescErr != nil {
			writeUint8(buf, 1)
			writeLenPrefixedString(buf, ds.BadDescErr.Error())
		} else {
			writeUint8(buf, 0)
		}

		writeUint32(buf, uint32(len(ds.SourceLinks)))
		for _, s := range ds.SourceLinks {
			writeLenPrefixedString(buf, s.URI)
			writeLenPrefixedString(buf, s.DOI)
			writeLenPrefixedString(buf, s.Version)
		}
	}
	return nil
}

func readDatasets(r *bytes.Reader) ([]bidsindex.Dataset, error) {
	count, err := readUint32(r)
	if err != nil {
		return nil, bidserrors.NewCacheIncompatible("truncated dataset count")
	}
	out := make([]bidsindex.Dataset, count)
	for i := uint32(0); i < count; i++ {
		root, err := readLenPrefixedString(r)
		if err != nil {
			return nil, bidserrors.NewCacheIncompatible("truncated dataset root")
		}
		canonical, err := readLenPrefixedString(r)
		if err != nil {
			return nil, bidserrors.NewCacheIncompatible("truncated dataset canonical root")
		}
		kindByte, err := readUint8(r)
		if err != nil {
			return nil, bidserrors.NewCacheIncompatible("truncated dataset kind")
		}

		hasLabel, err := readUint8(r)
		if err != nil {
			return nil, bidserrors.NewCacheIncompatible("truncated dataset label flag")
		}
		var label *string
		if hasLabel == 1 {
			l, err := readLenPrefixedString(r)
			if err != nil {
				return nil, bidserrors.NewCacheIncompatible("truncated dataset label")
			}
			label = &l
		}

		pipelines, err := readStrings(r)
		if err != nil {
			return nil, bidserrors.NewCacheIncompatible("truncated dataset pipelines")
		}

		hasDesc, err := readUint8(r)
		if err != nil {
			return nil, bidserrors.NewCacheIncompatible("truncated dataset description flag")
		}
		var desc *bidsindex.Description
		if hasDesc == 1 {
			length, err := readUint32(r)
			if err != nil {
				return nil, bidserrors.NewCacheIncompatible("truncated dataset description length")
			}
			payload := make([]byte, length)
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, bidserrors.NewCacheIncompatible("truncated dataset description payload")
			}
			var blob descriptionBlob
			if err := json.Unmarshal(payload, &blob); err != nil {
				return nil, bidserrors.NewCacheIncompatible("corrupt dataset description")
			}
			desc = fromBlob(&blob)
		}

		hasBadErr, err := readUint8(r)
		if err != nil {
			return nil, bidserrors.NewCacheIncompatible("truncated dataset error flag")
		}
		var badErr error
		if hasBadErr == 1 {
			msg, err := readLenPrefixedString(r)
			if err != nil {
				return nil, bidserrors.NewCacheIncompatible("truncated dataset error")
			}
			badErr = bidserrors.NewBadDescription(root, errors.New(msg))
		}

		linkCount, err := readUint32(r)
		if err != nil {
			return nil, bidserrors.NewCacheIncompatible("truncated source link count")
		}
		links := make([]bidsindex.SourceDatasetLink, linkCount)
		for li := uint32(0); li < linkCount; li++ {
			uri, err := readLenPrefixedString(r)
			if err != nil {
				return nil, bidserrors.NewCacheIncompatible("truncated source link")
			}
			doi, err := readLenPrefixedString(r)
			if err != nil {
				return nil, bidserrors.NewCacheIncompatible("truncated source link")
			}
			version, err := readLenPrefixedString(r)
			if err != nil {
				return nil, bidserrors.NewCacheIncompatible("truncated source link")
			}
			links[li] = bidsindex.SourceDatasetLink{URI: uri, DOI: doi, Version: version}
		}

		out[i] = bidsindex.Dataset{
			ID:            int(i),
			Root:          root,
			CanonicalRoot: canonical,
			Kind:          bidsindex.Kind(kindByte),
			Label:         label,
			Pipelines:     pipelines,
			Description:   desc,
			BadDescErr:    badErr,
			SourceLinks:   links,
		}
	}
	return out, nil
}
