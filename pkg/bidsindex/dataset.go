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

package bidsindex

// Kind classifies a dataset as raw input data or a derivative pipeline
// output.
type Kind int

const (
	Raw Kind = iota
	Derivative
)

func (k Kind) String() string {
	if k == Derivative {
		return "derivative"
	}
	return "raw"
}

// GeneratedBy describes one entry of dataset_description.json's
// GeneratedBy array: the pipeline that produced a derivative dataset.
type GeneratedBy struct {
	Name        string
	Version     string
	Description string
	CodeURL     string
	Container   map[string]any
}

// SourceDatasetLink describes one entry of SourceDatasets, linking a
// derivative back to the dataset it was generated from.
type SourceDatasetLink struct {
	URI     string
	DOI     string
	Version string
}

// Description is the parsed content of a dataset_description.json file.
// Unknown JSON fields are ignored; nothing here is required to be
// present, since presence of the file itself is also optional.
type Description struct {
	Name                string
	BIDSVersion         string
	HEDVersion          string
	DatasetLinks        map[string]string
	DatasetType         string
	License             string
	Authors             []string
	Acknowledgements    string
	HowToAcknowledge    string
	Funding             []string
	EthicsApprovals     []string
	ReferencesAndLinks  []string
	DatasetDOI          string
	GeneratedBy         []GeneratedBy
	SourceDatasets      []SourceDatasetLink
	PipelineDescription *GeneratedBy
}

// Dataset is a directory self-described (or not) by
// dataset_description.json: a raw dataset root or a labelled derivative.
type Dataset struct {
	ID int

	// Root is the dataset root exactly as resolved from the caller's
	// configured root specification (cleaned, but not necessarily
	// symlink-canonicalized). This is the form every Row.Path is
	// joined against, so that paths round-trip the way the caller
	// named their roots.
	Root string

	// CanonicalRoot is the symlink-resolved absolute form, used only
	// for duplicate-root detection at construction time.
	CanonicalRoot string

	Kind  Kind
	Label *string // derivative tag; nil for raw datasets and unlabeled derivatives

	Pipelines []string // GeneratedBy[].Name, for scope resolution

	Description *Description // nil if dataset_description.json absent or unparseable
	BadDescErr  error        // non-nil iff the file existed but could not be read or parsed

	SourceLinks []SourceDatasetLink
}
