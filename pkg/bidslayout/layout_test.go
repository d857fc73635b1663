// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package bidslayout

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kraklabs/bidslayout/pkg/bidsquery"
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

// buildWorkedExample reproduces the root D/ tree from spec.md's
// end-to-end scenarios: two raw subjects plus an auto-discoverable
// fmriprep derivative.
func buildWorkedExample(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dataset_description.json"), `{"Name":"D"}`)
	writeFile(t, filepath.Join(root, "sub-01", "anat", "sub-01_T1w.nii.gz"), "x")
	writeFile(t, filepath.Join(root, "sub-01", "func", "sub-01_task-rest_bold.nii.gz"), "x")
	writeFile(t, filepath.Join(root, "sub-01", "func", "sub-01_task-rest_bold.json"), `{"RepetitionTime":2.0}`)
	writeFile(t, filepath.Join(root, "sub-02", "anat", "sub-02_T1w.nii.gz"), "x")
	writeFile(t, filepath.Join(root, "derivatives", "fmriprep", "dataset_description.json"), `{"Name":"fmriprep","GeneratedBy":[{"Name":"fmriprep","Version":"23.1.0"}]}`)
	writeFile(t, filepath.Join(root, "derivatives", "fmriprep", "sub-01", "anat", "sub-01_space-MNI_desc-preproc_T1w.nii.gz"), "x")
	return root
}

// Scenario 1: entities["subject"] == ["01", "02"].
func TestScenario1EntitiesSubjects(t *testing.T) {
	root := buildWorkedExample(t)
	layout, err := Construct(context.Background(), Options{Roots: []string{root}, Derivatives: AutoDerivatives(), Validate: true})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	subjects := layout.Entities()["subject"]
	if len(subjects) != 2 || subjects[0] != "01" || subjects[1] != "02" {
		t.Fatalf("subjects = %v, want [01 02]", subjects)
	}
}

// Scenario 2: get(suffix="T1w").filter(scope="raw").len() == 2.
func TestScenario2GetSuffixFilterRawLen(t *testing.T) {
	root := buildWorkedExample(t)
	layout, err := Construct(context.Background(), Options{Roots: []string{root}, Derivatives: AutoDerivatives(), Validate: true})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	t1w, err := layout.Get(map[string]any{"suffix": "T1w"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	raw, err := t1w.Filter(bidsquery.Options{Scope: "raw"})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if raw.Len() != 2 {
		t.Fatalf("len = %d, want 2", raw.Len())
	}
}

// Scenario 3: filter(scope="prep").one.path is the labelled derivative file.
func TestScenario3LabeledDerivativeOnePath(t *testing.T) {
	root := buildWorkedExample(t)
	derivRoot := filepath.Join(root, "derivatives", "fmriprep")
	layout, err := Construct(context.Background(), Options{
		Roots:       []string{root},
		Derivatives: DerivativesFromLabels(map[string]string{"prep": derivRoot}),
		Validate:    true,
	})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	filtered, err := layout.Filter(bidsquery.Options{Scope: "prep"})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	one, err := filtered.One()
	if err != nil {
		t.Fatalf("One: %v", err)
	}
	want := derivRoot + "/sub-01/anat/sub-01_space-MNI_desc-preproc_T1w.nii.gz"
	if one.Path != want {
		t.Fatalf("One().Path = %q, want %q", one.Path, want)
	}
}

// Scenario 4: index_metadata().get(subject="01", suffix="bold").one
// resolves metadata from the _bold.json sidecar.
func TestScenario4IndexMetadataThenGetBoldOne(t *testing.T) {
	root := buildWorkedExample(t)
	layout, err := Construct(context.Background(), Options{Roots: []string{root}})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	indexed, err := layout.IndexMetadata()
	if err != nil {
		t.Fatalf("IndexMetadata: %v", err)
	}
	filtered, err := indexed.Get(map[string]any{"subject": "01", "suffix": "bold"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	one, err := filtered.One()
	if err != nil {
		t.Fatalf("One: %v", err)
	}
	if one.Metadata["RepetitionTime"] != "2" {
		t.Fatalf("RepetitionTime = %q, want 2", one.Metadata["RepetitionTime"])
	}
}

// Scenario 5: get(sub=1).one == get(subject="01").one. Subject 01 has
// three files in the worked example, so both queries also filter on
// suffix=bold to leave a single row for .one.
func TestScenario5IntegerCoercionEquivalence(t *testing.T) {
	root := buildWorkedExample(t)
	layout, err := Construct(context.Background(), Options{Roots: []string{root}, Derivatives: AutoDerivatives(), Validate: true})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	bySub, err := layout.Get(map[string]any{"sub": 1, "suffix": "bold"})
	if err != nil {
		t.Fatalf("Get(sub=1): %v", err)
	}
	byLong, err := layout.Get(map[string]any{"subject": "01", "suffix": "bold"})
	if err != nil {
		t.Fatalf("Get(subject=01): %v", err)
	}
	one1, err1 := bySub.One()
	one2, err2 := byLong.One()
	if err1 != nil || err2 != nil {
		t.Fatalf("expected unique matches, got %v / %v", err1, err2)
	}
	if one1.Path != one2.Path {
		t.Fatalf("sub=1 and subject=01 disagree: %q vs %q", one1.Path, one2.Path)
	}
}

// Scenario 6: derivatives.root fails AmbiguousRoot when two derivative
// datasets are present and selected.
func TestScenario6DerivativesRootAmbiguous(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dataset_description.json"), `{"Name":"D"}`)
	writeFile(t, filepath.Join(root, "sub-01", "anat", "sub-01_T1w.nii.gz"), "x")
	writeFile(t, filepath.Join(root, "derivatives", "fmriprep", "dataset_description.json"), `{"Name":"fmriprep"}`)
	writeFile(t, filepath.Join(root, "derivatives", "fmriprep", "sub-01", "anat", "sub-01_desc-preproc_T1w.nii.gz"), "x")
	writeFile(t, filepath.Join(root, "derivatives", "freesurfer", "dataset_description.json"), `{"Name":"freesurfer"}`)
	writeFile(t, filepath.Join(root, "derivatives", "freesurfer", "sub-01", "anat", "sub-01_desc-reconall_T1w.nii.gz"), "x")

	layout, err := Construct(context.Background(), Options{Roots: []string{root}, Derivatives: AutoDerivatives(), Validate: true})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if _, err := layout.Derivatives().Root(); err == nil {
		t.Fatalf("expected AmbiguousRoot from two derivative datasets")
	}
}

func TestConstructCacheRoundTrip(t *testing.T) {
	root := buildWorkedExample(t)
	cachePath := filepath.Join(t.TempDir(), "layout.bidscache")

	first, err := Construct(context.Background(), Options{
		Roots:       []string{root},
		Derivatives: AutoDerivatives(),
		Validate:    true,
		CachePath:   cachePath,
	})
	if err != nil {
		t.Fatalf("Construct (build): %v", err)
	}

	second, err := Construct(context.Background(), Options{
		Roots:       []string{root},
		Derivatives: AutoDerivatives(),
		Validate:    true,
		CachePath:   cachePath,
	})
	if err != nil {
		t.Fatalf("Construct (cache hit): %v", err)
	}
	if second.Len() != first.Len() {
		t.Fatalf("cached layout len = %d, want %d", second.Len(), first.Len())
	}
	if len(second.Entities()["subject"]) != len(first.Entities()["subject"]) {
		t.Fatalf("cached layout entities mismatch")
	}
}

func TestConstructResetCacheForcesRebuild(t *testing.T) {
	root := buildWorkedExample(t)
	cachePath := filepath.Join(t.TempDir(), "layout.bidscache")

	if _, err := Construct(context.Background(), Options{Roots: []string{root}, CachePath: cachePath}); err != nil {
		t.Fatalf("Construct (build): %v", err)
	}

	// Add a subject after the cache was written; without ResetCache a
	// DerivNone cache hit would still be structurally compatible (same
	// raw root) and this would not observe the new subject.
	writeFile(t, filepath.Join(root, "sub-03", "anat", "sub-03_T1w.nii.gz"), "x")

	rebuilt, err := Construct(context.Background(), Options{Roots: []string{root}, CachePath: cachePath, ResetCache: true})
	if err != nil {
		t.Fatalf("Construct (reset): %v", err)
	}
	subjects := rebuilt.Entities()["subject"]
	if len(subjects) != 3 {
		t.Fatalf("subjects after reset = %v, want 3 entries", subjects)
	}
}

// Regression: a layout loaded from a cache saved before IndexMetadata was
// ever called must still be able to resolve metadata on demand, not
// silently no-op because the loaded index's metadataDone latch was false
// but its resolver was left nil.
func TestLoadThenIndexMetadataResolvesSidecars(t *testing.T) {
	root := buildWorkedExample(t)
	built, err := Construct(context.Background(), Options{Roots: []string{root}})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	path := filepath.Join(t.TempDir(), "layout.bidscache")
	if err := built.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	indexed, err := loaded.IndexMetadata()
	if err != nil {
		t.Fatalf("IndexMetadata: %v", err)
	}
	if len(indexed.Metadata()) == 0 {
		t.Fatalf("Metadata() empty after IndexMetadata on a loaded layout")
	}
	filtered, err := indexed.Get(map[string]any{"subject": "01", "suffix": "bold"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	one, err := filtered.One()
	if err != nil {
		t.Fatalf("One: %v", err)
	}
	if one.Metadata["RepetitionTime"] != "2" {
		t.Fatalf("RepetitionTime = %q, want 2", one.Metadata["RepetitionTime"])
	}
}

func TestLongToShortAndBack(t *testing.T) {
	short, err := LongToShort("subject")
	if err != nil || short != "sub" {
		t.Fatalf("LongToShort(subject) = %q, %v", short, err)
	}
	long, err := ShortToLong("sub")
	if err != nil || long != "subject" {
		t.Fatalf("ShortToLong(sub) = %q, %v", long, err)
	}
}

func TestSaveLoadPreservesIterationOrder(t *testing.T) {
	root := buildWorkedExample(t)
	layout, err := Construct(context.Background(), Options{Roots: []string{root}, Derivatives: AutoDerivatives(), Validate: true})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	path := filepath.Join(t.TempDir(), "layout.bidscache")
	if err := layout.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	origRows, loadedRows := layout.Rows(), loaded.Rows()
	if len(origRows) != len(loadedRows) {
		t.Fatalf("row count mismatch: %d vs %d", len(origRows), len(loadedRows))
	}
	for i := range origRows {
		if origRows[i].Path != loadedRows[i].Path {
			t.Fatalf("row %d path mismatch: %q vs %q", i, origRows[i].Path, loadedRows[i].Path)
		}
	}
}
