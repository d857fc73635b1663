// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/bidslayout/pkg/bidslayout"
)

func TestParseFilters_PresenceValueAndList(t *testing.T) {
	filters, err := parseFilters([]string{"suffix=T1w", "subject=01,02", "session"})
	require.NoError(t, err)
	require.Equal(t, "T1w", filters["suffix"])

	list, ok := filters["subject"].([]string)
	require.True(t, ok, "subject filter should be a string slice")
	require.Equal(t, []string{"01", "02"}, list)
	require.Equal(t, true, filters["session"])
}

func TestParseFilters_IntegerCoercionSkipsLeadingZero(t *testing.T) {
	filters, err := parseFilters([]string{"sub=1", "subject=01"})
	require.NoError(t, err)
	require.Equal(t, 1, filters["sub"])
	require.Equal(t, "01", filters["subject"], "leading zero should be preserved as a string")
}

func TestParseFilterOptions_RootAndScope(t *testing.T) {
	opts, err := parseFilterOptions([]string{"root=**/fmriprep/**", "scope=prep"})
	require.NoError(t, err)
	require.Equal(t, "**/fmriprep/**", opts.Root)
	require.Equal(t, "prep", opts.Scope)
}

func TestParseFilterOptions_RejectsUnknownKey(t *testing.T) {
	_, err := parseFilterOptions([]string{"bogus=x"})
	require.Error(t, err)
}

func writeQueryTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRunExpression_GetThenFilterPipeline(t *testing.T) {
	root := t.TempDir()
	writeQueryTestFile(t, filepath.Join(root, "dataset_description.json"), `{"Name":"D"}`)
	writeQueryTestFile(t, filepath.Join(root, "sub-01", "anat", "sub-01_T1w.nii.gz"), "x")
	writeQueryTestFile(t, filepath.Join(root, "sub-02", "anat", "sub-02_T1w.nii.gz"), "x")

	layout, err := bidslayout.Construct(context.Background(), bidslayout.Options{Roots: []string{root}, Validate: true})
	require.NoError(t, err)

	result, err := runExpression(layout, "get suffix=T1w | filter scope=raw")
	require.NoError(t, err)
	require.Equal(t, 2, result.Len())
}

func TestRunExpression_UnknownStageRejected(t *testing.T) {
	root := t.TempDir()
	writeQueryTestFile(t, filepath.Join(root, "dataset_description.json"), `{"Name":"D"}`)
	layout, err := bidslayout.Construct(context.Background(), bidslayout.Options{Roots: []string{root}})
	require.NoError(t, err)

	_, err = runExpression(layout, "bogus foo=bar")
	require.Error(t, err)
}
