// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package bidscache

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kraklabs/bidslayout/pkg/bidsindex"
	"github.com/kraklabs/bidslayout/pkg/bidsmeta"
	"github.com/kraklabs/bidslayout/pkg/bidspath"
	"github.com/kraklabs/bidslayout/pkg/bidswalk"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func buildTestIndex(t *testing.T, resolveMetadata bool) *bidsindex.Index {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dataset_description.json"), `{"Name":"D","BIDSVersion":"1.8.0","GeneratedBy":[{"Name":"fmriprep"}]}`)
	writeFile(t, filepath.Join(root, "sub-01", "anat", "sub-01_T1w.nii.gz"), "x")
	writeFile(t, filepath.Join(root, "sub-01", "func", "sub-01_task-rest_bold.nii.gz"), "x")
	writeFile(t, filepath.Join(root, "sub-01", "func", "sub-01_task-rest_bold.json"), `{"RepetitionTime":2.5}`)
	writeFile(t, filepath.Join(root, "sub-02", "anat", "sub-02_T1w.nii.gz"), "x")

	datasets, rows, err := bidswalk.Walk(context.Background(), []string{root}, bidswalk.NoDerivatives(), bidswalk.Options{ParserMode: bidspath.Strict})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	idx := bidsindex.New(datasets, rows, bidspath.New(bidspath.Strict))
	idx.SetMetadataResolver(bidsmeta.Resolve)
	if resolveMetadata {
		if err := idx.IndexMetadata(); err != nil {
			t.Fatalf("IndexMetadata: %v", err)
		}
	}
	return idx
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := buildTestIndex(t, true)
	view := bidsindex.NewRootView(idx)

	var buf bytes.Buffer
	if err := Save(&buf, idx, bidspath.Strict); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, mode, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if mode != bidspath.Strict {
		t.Fatalf("mode = %v, want Strict", mode)
	}
	loadedView := bidsindex.NewRootView(loaded)

	if loadedView.Len() != view.Len() {
		t.Fatalf("len mismatch: %d vs %d", loadedView.Len(), view.Len())
	}

	origRows, loadedRows := view.Rows(), loadedView.Rows()
	if len(origRows) != len(loadedRows) {
		t.Fatalf("row count mismatch: %d vs %d", len(origRows), len(loadedRows))
	}
	for i := range origRows {
		if origRows[i].Path != loadedRows[i].Path {
			t.Fatalf("row %d path mismatch: %q vs %q", i, origRows[i].Path, loadedRows[i].Path)
		}
		if origRows[i].Parsed.Suffix != loadedRows[i].Parsed.Suffix {
			t.Fatalf("row %d suffix mismatch", i)
		}
	}

	origEntities, loadedEntities := view.Entities(), loadedView.Entities()
	if len(origEntities["subject"]) != len(loadedEntities["subject"]) {
		t.Fatalf("entities mismatch: %v vs %v", origEntities, loadedEntities)
	}

	if !loaded.MetadataIndexed() {
		t.Fatalf("loaded index should report metadata as already indexed")
	}
	origMeta, loadedMeta := view.Metadata(), loadedView.Metadata()
	if len(origMeta["RepetitionTime"]) != len(loadedMeta["RepetitionTime"]) {
		t.Fatalf("metadata mismatch: %v vs %v", origMeta, loadedMeta)
	}

	origDesc, err1 := view.Description()
	loadedDesc, err2 := loadedView.Description()
	if err1 != nil || err2 != nil {
		t.Fatalf("Description errors: %v / %v", err1, err2)
	}
	if origDesc.Name != loadedDesc.Name || origDesc.BIDSVersion != loadedDesc.BIDSVersion {
		t.Fatalf("description mismatch: %+v vs %+v", origDesc, loadedDesc)
	}
}

func TestLoadRejectsCorruptCRC(t *testing.T) {
	idx := buildTestIndex(t, false)
	var buf bytes.Buffer
	if err := Save(&buf, idx, bidspath.Strict); err != nil {
		t.Fatalf("Save: %v", err)
	}
	corrupt := buf.Bytes()
	corrupt[len(corrupt)-1] ^= 0xFF

	_, _, err := Load(bytes.NewReader(corrupt))
	if err == nil {
		t.Fatalf("expected CacheIncompatible on corrupt CRC")
	}
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	idx := buildTestIndex(t, false)
	var buf bytes.Buffer
	if err := Save(&buf, idx, bidspath.Strict); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw := buf.Bytes()
	// Version is the two bytes immediately after the 4-byte magic.
	raw[4] = 0xFF
	raw[5] = 0xFF

	_, _, err := Load(bytes.NewReader(raw))
	if err == nil {
		t.Fatalf("expected CacheIncompatible on unknown version")
	}
}

func TestValidateAgainstRootsDetectsLabelMismatch(t *testing.T) {
	idx := buildTestIndex(t, false)
	err := ValidateAgainstRoots(idx.Datasets, []string{idx.Datasets[0].Root}, []string{"some-other-label"})
	if err == nil {
		t.Fatalf("expected a label ordering mismatch error")
	}
}

func TestSaveLoadFileRoundTrip(t *testing.T) {
	idx := buildTestIndex(t, false)
	path := filepath.Join(t.TempDir(), "layout.bidscache")
	if err := SaveFile(path, idx, bidspath.Strict); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	loaded, _, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(loaded.Rows) != len(idx.Rows) {
		t.Fatalf("row count mismatch after file round-trip: %d vs %d", len(loaded.Rows), len(idx.Rows))
	}
}
