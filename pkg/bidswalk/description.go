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

package bidswalk

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/kraklabs/bidslayout/pkg/bidsindex"
)

// rawDescription mirrors the subset of dataset_description.json fields
// this system understands; everything else in the file is ignored.
type rawDescription struct {
	Name                string            `json:"Name"`
	BIDSVersion         string            `json:"BIDSVersion"`
	HEDVersion          string            `json:"HEDVersion"`
	DatasetLinks        map[string]string `json:"DatasetLinks"`
	DatasetType         string            `json:"DatasetType"`
	License             string            `json:"License"`
	Authors             []string          `json:"Authors"`
	Acknowledgements    string            `json:"Acknowledgements"`
	HowToAcknowledge    string            `json:"HowToAcknowledge"`
	Funding             []string          `json:"Funding"`
	EthicsApprovals     []string          `json:"EthicsApprovals"`
	ReferencesAndLinks  []string          `json:"ReferencesAndLinks"`
	DatasetDOI          string            `json:"DatasetDOI"`
	GeneratedBy         []rawGeneratedBy  `json:"GeneratedBy"`
	SourceDatasets      []rawSourceLink   `json:"SourceDatasets"`
	PipelineDescription *rawGeneratedBy   `json:"PipelineDescription"`
}

type rawGeneratedBy struct {
	Name        string         `json:"Name"`
	Version     string         `json:"Version"`
	Description string         `json:"Description"`
	CodeURL     string         `json:"CodeURL"`
	Container   map[string]any `json:"Container"`
}

type rawSourceLink struct {
	URI     string `json:"URI"`
	DOI     string `json:"DOI"`
	Version string `json:"Version"`
}

// readDescription loads and parses root/dataset_description.json. A
// missing file returns (nil, nil, nil); that is not an error. A
// malformed file yields a non-nil BadDescription error alongside a nil
// description; the caller stores both on the Dataset without aborting
// construction.
func readDescription(root string) (*bidsindex.Description, error, error) {
	path := filepath.Join(root, "dataset_description.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var raw rawDescription
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err, nil
	}

	desc := &bidsindex.Description{
		Name:               raw.Name,
		BIDSVersion:        raw.BIDSVersion,
		HEDVersion:         raw.HEDVersion,
		DatasetLinks:       raw.DatasetLinks,
		DatasetType:        raw.DatasetType,
		License:            raw.License,
		Authors:            raw.Authors,
		Acknowledgements:   raw.Acknowledgements,
		HowToAcknowledge:   raw.HowToAcknowledge,
		Funding:            raw.Funding,
		EthicsApprovals:    raw.EthicsApprovals,
		ReferencesAndLinks: raw.ReferencesAndLinks,
		DatasetDOI:         raw.DatasetDOI,
	}
	for _, g := range raw.GeneratedBy {
		desc.GeneratedBy = append(desc.GeneratedBy, bidsindex.GeneratedBy{
			Name: g.Name, Version: g.Version, Description: g.Description,
			CodeURL: g.CodeURL, Container: g.Container,
		})
	}
	for _, s := range raw.SourceDatasets {
		desc.SourceDatasets = append(desc.SourceDatasets, bidsindex.SourceDatasetLink{
			URI: s.URI, DOI: s.DOI, Version: s.Version,
		})
	}
	if raw.PipelineDescription != nil {
		desc.PipelineDescription = &bidsindex.GeneratedBy{
			Name: raw.PipelineDescription.Name, Version: raw.PipelineDescription.Version,
			Description: raw.PipelineDescription.Description, CodeURL: raw.PipelineDescription.CodeURL,
			Container: raw.PipelineDescription.Container,
		}
	}
	return desc, nil, nil
}

func pipelineNames(desc *bidsindex.Description) []string {
	if desc == nil {
		return nil
	}
	names := make([]string, 0, len(desc.GeneratedBy))
	for _, g := range desc.GeneratedBy {
		if g.Name != "" {
			names = append(names, g.Name)
		}
	}
	return names
}
