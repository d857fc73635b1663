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

// Package bidspath turns a BIDS-style relative path into a structured
// entity map, recovering datatype, suffix, and extension, in either a
// strict dictionary-gated mode or a permissive any-key-value mode.
package bidspath

// EntityValue is one entity found in a path, in the order it was
// discovered (directory segments first, top to bottom, then filename
// tokens left to right).
type EntityValue struct {
	Name  string // canonical long name if known, else the literal key
	Value string
}

// ParsedPath is the structured result of parsing one relative path.
type ParsedPath struct {
	RelPath   string
	Entities  []EntityValue
	Datatype  string // empty if absent
	Suffix    string // empty if absent
	Extension string // empty if absent; includes leading dot
	Parts     []string
}

// Get returns the value of entity name (canonical long form) and
// whether it is present. When no entity has that name, "datatype",
// "suffix" and "extension" return the path's Datatype, Suffix and
// Extension fields (absent when empty).
func (p ParsedPath) Get(name string) (string, bool) {
	for _, ev := range p.Entities {
		if ev.Name == name {
			return ev.Value, true
		}
	}
	switch name {
	case "datatype":
		return p.Datatype, p.Datatype != ""
	case "suffix":
		return p.Suffix, p.Suffix != ""
	case "extension":
		return p.Extension, p.Extension != ""
	}
	return "", false
}

// Map returns the entities as a plain map, discarding insertion order.
func (p ParsedPath) Map() map[string]string {
	m := make(map[string]string, len(p.Entities))
	for _, ev := range p.Entities {
		m[ev.Name] = ev.Value
	}
	return m
}

func (p *ParsedPath) set(name, value string) {
	for i, ev := range p.Entities {
		if ev.Name == name {
			p.Entities[i].Value = value
			return
		}
	}
	p.Entities = append(p.Entities, EntityValue{Name: name, Value: value})
}
