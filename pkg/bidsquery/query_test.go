// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package bidsquery

import (
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

// buildScenario reproduces the end-to-end worked example: a raw dataset
// D with two subjects and an auto-discovered fmriprep derivative.
func buildScenario(t *testing.T) (*bidsindex.View, string) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dataset_description.json"), `{"Name":"D"}`)
	writeFile(t, filepath.Join(root, "sub-01", "anat", "sub-01_T1w.nii.gz"), "x")
	writeFile(t, filepath.Join(root, "sub-01", "func", "sub-01_task-rest_bold.nii.gz"), "x")
	writeFile(t, filepath.Join(root, "sub-01", "func", "sub-01_task-rest_bold.json"), `{"RepetitionTime":2.0}`)
	writeFile(t, filepath.Join(root, "sub-02", "anat", "sub-02_T1w.nii.gz"), "x")

	derivRoot := filepath.Join(root, "derivatives", "fmriprep")
	writeFile(t, filepath.Join(derivRoot, "dataset_description.json"), `{"Name":"fmriprep","GeneratedBy":[{"Name":"fmriprep","Version":"23.1.0"}]}`)
	writeFile(t, filepath.Join(derivRoot, "sub-01", "anat", "sub-01_space-MNI_desc-preproc_T1w.nii.gz"), "x")

	datasets, rows, err := bidswalk.Walk(context.Background(), []string{root}, bidswalk.AutoDerivatives(), bidswalk.Options{ParserMode: bidspath.Strict})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	idx := bidsindex.New(datasets, rows, bidspath.New(bidspath.Strict))
	idx.SetMetadataResolver(bidsmeta.Resolve)
	return bidsindex.NewRootView(idx), root
}

func TestScenarioEntitiesAggregate(t *testing.T) {
	view, _ := buildScenario(t)
	subjects := view.Entities()["subject"]
	if len(subjects) != 2 || subjects[0] != "01" || subjects[1] != "02" {
		t.Fatalf("subjects = %v, want [01 02]", subjects)
	}
}

func TestScenarioGetThenFilterScopeRaw(t *testing.T) {
	view, _ := buildScenario(t)
	t1w, err := Get(view, map[string]any{"suffix": "T1w"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	raw, err := Filter(t1w, Options{Scope: "raw"})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if raw.Len() != 2 {
		t.Fatalf("len = %d, want 2", raw.Len())
	}
}

func TestScenarioLabeledDerivativeOne(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dataset_description.json"), `{"Name":"D"}`)
	writeFile(t, filepath.Join(root, "sub-01", "anat", "sub-01_T1w.nii.gz"), "x")

	derivRoot := filepath.Join(root, "derivatives", "fmriprep")
	writeFile(t, filepath.Join(derivRoot, "dataset_description.json"), `{"Name":"fmriprep"}`)
	writeFile(t, filepath.Join(derivRoot, "sub-01", "anat", "sub-01_space-MNI_desc-preproc_T1w.nii.gz"), "x")

	datasets, rows, err := bidswalk.Walk(context.Background(), []string{root}, bidswalk.DerivativesFromLabels(map[string]string{"prep": derivRoot}), bidswalk.Options{ParserMode: bidspath.Strict})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	idx := bidsindex.New(datasets, rows, bidspath.New(bidspath.Strict))
	view := bidsindex.NewRootView(idx)

	filtered, err := Filter(view, Options{Scope: "prep"})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	one, err := filtered.One()
	if err != nil {
		t.Fatalf("One: %v", err)
	}
	want := root + "/derivatives/fmriprep/sub-01/anat/sub-01_space-MNI_desc-preproc_T1w.nii.gz"
	if one.Path != want {
		t.Fatalf("One().Path = %q, want %q", one.Path, want)
	}
}

func TestScenarioIndexMetadataThenGetBoldOne(t *testing.T) {
	view, _ := buildScenario(t)
	if err := view.Index().IndexMetadata(); err != nil {
		t.Fatalf("IndexMetadata: %v", err)
	}
	filtered, err := Get(view, map[string]any{"subject": "01", "suffix": "bold"})
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

// Subject 01 has three files in the scenario, so both queries also
// filter on suffix=bold to leave a single row for One().
func TestGetIntegerCoercionEquivalence(t *testing.T) {
	view, _ := buildScenario(t)
	bySub, err := Get(view, map[string]any{"sub": 1, "suffix": "bold"})
	if err != nil {
		t.Fatalf("Get(sub=1): %v", err)
	}
	byLong, err := Get(view, map[string]any{"subject": "01", "suffix": "bold"})
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

func TestGetIntegerAmbiguousFailsNotUnique(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dataset_description.json"), `{"Name":"D"}`)
	writeFile(t, filepath.Join(root, "sub-1", "anat", "sub-1_T1w.nii.gz"), "x")
	writeFile(t, filepath.Join(root, "sub-01", "anat", "sub-01_T2w.nii.gz"), "x")

	datasets, rows, err := bidswalk.Walk(context.Background(), []string{root}, bidswalk.NoDerivatives(), bidswalk.Options{ParserMode: bidspath.Strict})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	idx := bidsindex.New(datasets, rows, bidspath.New(bidspath.Strict))
	view := bidsindex.NewRootView(idx)

	if _, err := Get(view, map[string]any{"sub": 1}); err == nil {
		t.Fatalf("expected NotUnique on ambiguous integer coercion")
	}
}

func TestGetRunMatchesZeroPaddedButNotLongerOrNonNumeric(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dataset_description.json"), `{"Name":"D"}`)
	writeFile(t, filepath.Join(root, "sub-01", "func", "sub-01_task-rest_run-01_bold.nii.gz"), "x")
	writeFile(t, filepath.Join(root, "sub-01", "func", "sub-01_task-rest_run-10_bold.nii.gz"), "x")
	writeFile(t, filepath.Join(root, "sub-01", "func", "sub-01_task-rest_run-Pre1_bold.nii.gz"), "x")

	datasets, rows, err := bidswalk.Walk(context.Background(), []string{root}, bidswalk.NoDerivatives(), bidswalk.Options{ParserMode: bidspath.Strict})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	idx := bidsindex.New(datasets, rows, bidspath.New(bidspath.Strict))
	view := bidsindex.NewRootView(idx)

	filtered, err := Get(view, map[string]any{"run": 1})
	if err != nil {
		t.Fatalf("Get(run=1): %v", err)
	}
	if filtered.Len() != 1 {
		t.Fatalf("len = %d, want 1 (run-01 only, not run-10 or run-Pre1)", filtered.Len())
	}
}

func TestFromTrailingUnderscoreAlias(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "dataset_description.json"), `{"Name":"D"}`)
	writeFile(t, filepath.Join(root, "sub-01", "anat", "sub-01_from-MNI_to-T1w_mode-image_xfm.nii.gz"), "x")

	datasets, rows, err := bidswalk.Walk(context.Background(), []string{root}, bidswalk.NoDerivatives(), bidswalk.Options{ParserMode: bidspath.Permissive})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	idx := bidsindex.New(datasets, rows, bidspath.New(bidspath.Permissive))
	view := bidsindex.NewRootView(idx)

	byTrailing, err := Get(view, map[string]any{"from_": "MNI"})
	if err != nil {
		t.Fatalf("Get(from_=MNI): %v", err)
	}
	byPlain, err := Get(view, map[string]any{"from": "MNI"})
	if err != nil {
		t.Fatalf("Get(from=MNI): %v", err)
	}
	if byTrailing.Len() != byPlain.Len() || byTrailing.Len() != 1 {
		t.Fatalf("from_ alias mismatch: %d vs %d", byTrailing.Len(), byPlain.Len())
	}
}

func TestFilterRootGlob(t *testing.T) {
	view, root := buildScenario(t)
	pattern := root + "/derivatives/**"
	filtered, err := Filter(view, Options{Root: pattern})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(filtered.Roots()) != 1 || filtered.Roots()[0].Kind != bidsindex.Derivative {
		t.Fatalf("glob root filter did not isolate the derivative dataset: %+v", filtered.Roots())
	}
}

func TestUnknownScopeFails(t *testing.T) {
	view, _ := buildScenario(t)
	if _, err := Filter(view, Options{Scope: "nonexistent"}); err == nil {
		t.Fatalf("expected UnknownScope")
	}
}

func TestEmptySelectionProperties(t *testing.T) {
	view, _ := buildScenario(t)
	empty, err := Get(view, map[string]any{"subject": "99"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if empty.Len() != 0 {
		t.Fatalf("len = %d, want 0", empty.Len())
	}
	if len(empty.Entities()) != 0 {
		t.Fatalf("entities should be empty on an empty selection: %v", empty.Entities())
	}
	if _, err := empty.One(); err == nil {
		t.Fatalf("expected an error from One() on an empty selection")
	}
}
