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

// Package bidscache serializes a constructed Layout Index to a compact
// binary cache file and reloads it faithfully, so repeated construction
// over the same roots can skip the filesystem walk entirely.
package bidscache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"

	bidserrors "github.com/kraklabs/bidslayout/internal/errors"
	"github.com/kraklabs/bidslayout/pkg/bidsindex"
	"github.com/kraklabs/bidslayout/pkg/bidspath"
)

// magic identifies a bidslayout cache file. Four bytes, no trailing NUL.
var magic = [4]byte{'R', 'S', 'B', 'L'}

// formatVersion is bumped whenever the wire layout changes
// incompatibly; Load refuses anything else with CacheIncompatible.
const formatVersion uint16 = 1

const absentMarker = uint32(0xFFFFFFFF)

// descriptionBlob mirrors bidsindex.Description for JSON round-tripping
// inside the cache; kept distinct from the live type so a later field
// rename on one side doesn't silently break the wire format.
type descriptionBlob struct {
	Name                string                      `json:"name"`
	BIDSVersion         string                      `json:"bidsVersion"`
	HEDVersion          string                      `json:"hedVersion"`
	DatasetLinks        map[string]string           `json:"datasetLinks"`
	DatasetType         string                      `json:"datasetType"`
	License             string                      `json:"license"`
	Authors             []string                    `json:"authors"`
	Acknowledgements    string                      `json:"acknowledgements"`
	HowToAcknowledge    string                      `json:"howToAcknowledge"`
	Funding             []string                    `json:"funding"`
	EthicsApprovals     []string                    `json:"ethicsApprovals"`
	ReferencesAndLinks  []string                    `json:"referencesAndLinks"`
	DatasetDOI          string                      `json:"datasetDOI"`
	GeneratedBy         []bidsindex.GeneratedBy     `json:"generatedBy"`
	SourceDatasets      []bidsindex.SourceDatasetLink `json:"sourceDatasets"`
	PipelineDescription *bidsindex.GeneratedBy      `json:"pipelineDescription"`
}

func toBlob(d *bidsindex.Description) *descriptionBlob {
	if d == nil {
		return nil
	}
	return &descriptionBlob{
		Name: d.Name, BIDSVersion: d.BIDSVersion, HEDVersion: d.HEDVersion,
		DatasetLinks: d.DatasetLinks, DatasetType: d.DatasetType, License: d.License,
		Authors: d.Authors, Acknowledgements: d.Acknowledgements, HowToAcknowledge: d.HowToAcknowledge,
		Funding: d.Funding, EthicsApprovals: d.EthicsApprovals, ReferencesAndLinks: d.ReferencesAndLinks,
		DatasetDOI: d.DatasetDOI, GeneratedBy: d.GeneratedBy, SourceDatasets: d.SourceDatasets,
		PipelineDescription: d.PipelineDescription,
	}
}

func fromBlob(b *descriptionBlob) *bidsindex.Description {
	if b == nil {
		return nil
	}
	return &bidsindex.Description{
		Name: b.Name, BIDSVersion: b.BIDSVersion, HEDVersion: b.HEDVersion,
		DatasetLinks: b.DatasetLinks, DatasetType: b.DatasetType, License: b.License,
		Authors: b.Authors, Acknowledgements: b.Acknowledgements, HowToAcknowledge: b.HowToAcknowledge,
		Funding: b.Funding, EthicsApprovals: b.EthicsApprovals, ReferencesAndLinks: b.ReferencesAndLinks,
		DatasetDOI: b.DatasetDOI, GeneratedBy: b.GeneratedBy, SourceDatasets: b.SourceDatasets,
		PipelineDescription: b.PipelineDescription,
	}
}

// SaveFile writes idx to path, truncating any existing file.
func SaveFile(path string, idx *bidsindex.Index, mode bidspath.Mode) error {
	f, err := os.Create(path)
	if err != nil {
		return bidserrors.NewIoError(path, err)
	}
	defer f.Close()
	if err := Save(f, idx, mode); err != nil {
		return err
	}
	return nil
}

// LoadFile reads a cache previously written by SaveFile.
func LoadFile(path string) (*bidsindex.Index, bidspath.Mode, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, bidserrors.NewIoError(path, err)
	}
	defer f.Close()
	return Load(f)
}

// Save streams idx's datasets, rows, and (if resolved) metadata to w in
// the RSBL binary format.
func Save(w io.Writer, idx *bidsindex.Index, mode bidspath.Mode) error {
	var body bytes.Buffer
	heap := newStringHeap()

	writeUint8(&body, uint8(mode))

	if err := writeDatasets(&body, idx.Datasets); err != nil {
		return err
	}

	entityNames := collectEntityNames(idx.Rows)
	writeStrings(&body, entityNames)

	writeUint32(&body, uint32(len(idx.Rows)))

	// Path is reconstructed on load as the dataset root joined with
	// RelPath, so only the relative path needs to survive the trip.
	relPathIdx := make([]uint32, len(idx.Rows))
	for i, r := range idx.Rows {
		relPathIdx[i] = heap.intern(r.Parsed.RelPath)
	}
	writeUint32Slice(&body, relPathIdx)

	datasetIDs := make([]uint32, len(idx.Rows))
	for i, r := range idx.Rows {
		datasetIDs[i] = uint32(r.DatasetID)
	}
	writeUint32Slice(&body, datasetIDs)

	writeRLEColumn(&body, heap, len(idx.Rows), func(i int) (string, bool) {
		return idx.Rows[i].Parsed.Datatype, idx.Rows[i].Parsed.Datatype != ""
	})
	writeRLEColumn(&body, heap, len(idx.Rows), func(i int) (string, bool) {
		return idx.Rows[i].Parsed.Suffix, idx.Rows[i].Parsed.Suffix != ""
	})
	writeRLEColumn(&body, heap, len(idx.Rows), func(i int) (string, bool) {
		return idx.Rows[i].Parsed.Extension, idx.Rows[i].Parsed.Extension != ""
	})

	for _, name := range entityNames {
		writeRLEColumn(&body, heap, len(idx.Rows), func(i int) (string, bool) {
			return idx.Rows[i].Parsed.Get(name)
		})
	}

	writePartsBlock(&body, heap, idx.Rows)

	metadataIndexed := idx.MetadataIndexed()
	writeUint8(&body, boolByte(metadataIndexed))
	if metadataIndexed {
		metaKeys := collectMetadataKeys(idx.Rows)
		writeStrings(&body, metaKeys)
		for _, key := range metaKeys {
			writeRLEColumn(&body, heap, len(idx.Rows), func(i int) (string, bool) {
				v, ok := idx.Rows[i].Metadata[key]
				return v, ok
			})
		}
	}

	// The string heap is written last even though columns reference it
	// by index, since its final contents aren't known until every
	// column above has interned every string it needs.
	var heapBuf bytes.Buffer
	heap.writeTo(&heapBuf)

	if _, err := w.Write(magic[:]); err != nil {
		return bidserrors.NewIoError("cache", err)
	}
	if err := binary.Write(w, binary.BigEndian, formatVersion); err != nil {
		return bidserrors.NewIoError("cache", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(heapBuf.Len())); err != nil {
		return bidserrors.NewIoError("cache", err)
	}
	if _, err := w.Write(heapBuf.Bytes()); err != nil {
		return bidserrors.NewIoError("cache", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return bidserrors.NewIoError("cache", err)
	}

	checksum := crc32.NewIEEE()
	checksum.Write(heapBuf.Bytes())
	checksum.Write(body.Bytes())
	if err := binary.Write(w, binary.BigEndian, checksum.Sum32()); err != nil {
		return bidserrors.NewIoError("cache", err)
	}
	return nil
}

// Load reads a cache file written by Save, reconstructing the full
// dataset table, row set, and resolved metadata if present. It returns
// the parser mode the cache was built with, so the caller can wire up a
// matching *bidspath.Parser for ad-hoc Parse calls.
func Load(r io.Reader) (*bidsindex.Index, bidspath.Mode, error) {
	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, 0, bidserrors.NewCacheIncompatible("truncated header")
	}
	if gotMagic != magic {
		return nil, 0, bidserrors.NewCacheIncompatible("bad magic")
	}
	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, 0, bidserrors.NewCacheIncompatible("truncated version")
	}
	if version != formatVersion {
		return nil, 0, bidserrors.NewCacheIncompatible("unsupported format version")
	}

	var heapLen uint32
	if err := binary.Read(r, binary.BigEndian, &heapLen); err != nil {
		return nil, 0, bidserrors.NewCacheIncompatible("truncated heap length")
	}

	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, bidserrors.NewCacheIncompatible("truncated payload")
	}
	if len(rest) < int(heapLen)+4 {
		return nil, 0, bidserrors.NewCacheIncompatible("truncated payload")
	}
	heapBytes := rest[:heapLen]
	bodyAndCRC := rest[heapLen:]
	body := bodyAndCRC[:len(bodyAndCRC)-4]
	wantCRC := binary.BigEndian.Uint32(bodyAndCRC[len(bodyAndCRC)-4:])

	checksum := crc32.NewIEEE()
	checksum.Write(heapBytes)
	checksum.Write(body)
	if checksum.Sum32() != wantCRC {
		return nil, 0, bidserrors.NewCacheIncompatible("crc mismatch")
	}

	heap, err := readStringHeap(bytes.NewReader(heapBytes))
	if err != nil {
		return nil, 0, bidserrors.NewCacheIncompatible("corrupt string heap")
	}

	br := bytes.NewReader(body)
	modeByte, err := readUint8(br)
	if err != nil {
		return nil, 0, bidserrors.NewCacheIncompatible("truncated parser mode")
	}
	mode := bidspath.Mode(modeByte)

	datasets, err := readDatasets(br)
	if err != nil {
		return nil, 0, err
	}

	entityNames, err := readStrings(br)
	if err != nil {
		return nil, 0, bidserrors.NewCacheIncompatible("truncated entity dictionary")
	}

	rowCount, err := readUint32(br)
	if err != nil {
		return nil, 0, bidserrors.NewCacheIncompatible("truncated row count")
	}
	n := int(rowCount)

	relPathIdx, err := readUint32Slice(br, n)
	if err != nil {
		return nil, 0, bidserrors.NewCacheIncompatible("truncated paths column")
	}
	datasetIDs, err := readUint32Slice(br, n)
	if err != nil {
		return nil, 0, bidserrors.NewCacheIncompatible("truncated dataset-id column")
	}

	datatypes, err := readRLEColumn(br, heap, n)
	if err != nil {
		return nil, 0, err
	}
	suffixes, err := readRLEColumn(br, heap, n)
	if err != nil {
		return nil, 0, err
	}
	extensions, err := readRLEColumn(br, heap, n)
	if err != nil {
		return nil, 0, err
	}

	entityCols := make([][]*string, len(entityNames))
	for i := range entityNames {
		col, err := readRLEColumn(br, heap, n)
		if err != nil {
			return nil, 0, err
		}
		entityCols[i] = col
	}

	parts, err := readPartsBlock(br, heap, n)
	if err != nil {
		return nil, 0, err
	}

	metadataPresentByte, err := readUint8(br)
	if err != nil {
		return nil, 0, bidserrors.NewCacheIncompatible("truncated metadata flag")
	}
	metadataIndexed := metadataPresentByte != 0

	var metaKeys []string
	var metaCols [][]*string
	if metadataIndexed {
		metaKeys, err = readStrings(br)
		if err != nil {
			return nil, 0, bidserrors.NewCacheIncompatible("truncated metadata keys")
		}
		metaCols = make([][]*string, len(metaKeys))
		for i := range metaKeys {
			col, err := readRLEColumn(br, heap, n)
			if err != nil {
				return nil, 0, err
			}
			metaCols[i] = col
		}
	}

	rows := make([]bidsindex.Row, n)
	for i := 0; i < n; i++ {
		relPath := heap.at(relPathIdx[i])
		parsed := bidspath.ParsedPath{
			RelPath: relPath,
		}
		if datatypes[i] != nil {
			parsed.Datatype = *datatypes[i]
		}
		if suffixes[i] != nil {
			parsed.Suffix = *suffixes[i]
		}
		if extensions[i] != nil {
			parsed.Extension = *extensions[i]
		}
		for ci, name := range entityNames {
			if v := entityCols[ci][i]; v != nil {
				parsed.Entities = append(parsed.Entities, bidspath.EntityValue{Name: name, Value: *v})
			}
		}
		parsed.Parts = parts[i]

		row := bidsindex.Row{
			Path:      joinPath(datasets[datasetIDs[i]].Root, relPath),
			DatasetID: int(datasetIDs[i]),
			Parsed:    parsed,
		}
		if metadataIndexed {
			meta := make(map[string]string)
			for ci, key := range metaKeys {
				if v := metaCols[ci][i]; v != nil {
					meta[key] = *v
				}
			}
			row.Metadata = meta
		}
		rows[i] = row
	}

	idx := bidsindex.New(datasets, rows, bidspath.New(mode))
	if metadataIndexed {
		idx.SetMetadataResolver(func(*bidsindex.Index) error { return nil })
		if err := idx.IndexMetadata(); err != nil {
			return nil, 0, err
		}
	}
	return idx, mode, nil
}

// ValidateAgainstRoots rejects a loaded cache whose dataset roots and
// labels, in order, don't match the caller's current construction
// request.
func ValidateAgainstRoots(datasets []bidsindex.Dataset, expectedRoots []string, expectedLabels []string) error {
	if len(datasets) != len(expectedRoots) {
		return bidserrors.NewCacheIncompatible("dataset count mismatch")
	}
	for i, ds := range datasets {
		if ds.Root != expectedRoots[i] {
			return bidserrors.NewCacheIncompatible("dataset root ordering mismatch")
		}
		wantLabel := ""
		if i < len(expectedLabels) {
			wantLabel = expectedLabels[i]
		}
		gotLabel := ""
		if ds.Label != nil {
			gotLabel = *ds.Label
		}
		if gotLabel != wantLabel {
			return bidserrors.NewCacheIncompatible("dataset label ordering mismatch")
		}
	}
	return nil
}

// joinPath reconstructs Row.Path from a dataset root and a row's
// relative path, mirroring how the walker originally built it.
func joinPath(root, rel string) string {
	root = strings.TrimSuffix(filepath.ToSlash(root), "/")
	return root + "/" + rel
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

var errShortRead = errors.New("bidscache: short read")

func collectEntityNames(rows []bidsindex.Row) []string {
	seen := map[string]bool{}
	var names []string
	for _, r := range rows {
		for _, ev := range r.Parsed.Entities {
			if !seen[ev.Name] {
				seen[ev.Name] = true
				names = append(names, ev.Name)
			}
		}
	}
	return names
}

func collectMetadataKeys(rows []bidsindex.Row) []string {
	seen := map[string]bool{}
	var keys []string
	for _, r := range rows {
		for k := range r.Metadata {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}
