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

package bidspath

import (
	"strings"

	"github.com/kraklabs/bidslayout/internal/errors"
	"github.com/kraklabs/bidslayout/pkg/bidsdict"
)

// Mode selects strict dictionary-gated parsing or permissive any-key-
// value parsing.
type Mode int

const (
	// Strict recognizes only entity tokens whose key matches a
	// dictionary long or short name; everything else becomes a part.
	Strict Mode = iota
	// Permissive accepts any non-empty "key-value" token as an entity,
	// dictionary membership or not.
	Permissive
)

// Parser parses relative BIDS paths into ParsedPath values.
type Parser struct {
	Mode Mode
}

// New creates a Parser in the given mode.
func New(mode Mode) *Parser {
	return &Parser{Mode: mode}
}

// Parse splits relPath (forward-slash separated, relative to a dataset
// root) into entities, datatype, suffix, extension, and parts.
//
// Directory segments are mined for entity-value tokens first (top to
// bottom), then the filename is split on "_" into tokens. In Strict
// mode a directory entity that disagrees with the same key's filename
// value fails with InconsistentEntityError. The parser never panics;
// in Permissive mode every input produces a ParsedPath.
func (p *Parser) Parse(relPath string) (ParsedPath, error) {
	relPath = strings.TrimPrefix(relPath, "/")
	result := ParsedPath{RelPath: relPath}

	segments := strings.Split(relPath, "/")
	if len(segments) == 0 {
		return result, nil
	}
	filename := segments[len(segments)-1]
	dirSegments := segments[:len(segments)-1]

	// Directory segments, top to bottom. The last directory segment is
	// the datatype-candidate position.
	dirEntities := make([]EntityValue, 0, len(dirSegments))
	for i, seg := range dirSegments {
		isLastDir := i == len(dirSegments)-1
		for _, tok := range strings.Split(seg, "_") {
			if tok == "" {
				continue
			}
			if name, value, ok, err := p.classifyEntityToken(tok); err != nil {
				return result, err
			} else if ok {
				if !p.permittedInDirectory(name) {
					result.Parts = append(result.Parts, tok)
					continue
				}
				dirEntities = append(dirEntities, EntityValue{Name: name, Value: value})
				continue
			}
			if isLastDir && result.Datatype == "" {
				if bidsdict.Datatypes[tok] {
					result.Datatype = tok
					continue
				}
				if p.Mode == Permissive {
					result.Datatype = tok
					continue
				}
			}
			result.Parts = append(result.Parts, tok)
		}
	}

	// Filename tokens, split on "_". The trailing token carries the
	// suffix (and extension, split at its first dot); every other
	// token is an entity-value pair.
	tokens := strings.Split(filename, "_")
	for i, tok := range tokens {
		if tok == "" {
			continue
		}
		isTrailing := i == len(tokens)-1
		if isTrailing {
			if dot := strings.Index(tok, "."); dot >= 0 {
				result.Suffix = tok[:dot]
				result.Extension = tok[dot:]
			} else {
				result.Suffix = tok
			}
			continue
		}
		name, value, ok, err := p.classifyEntityToken(tok)
		if err != nil {
			return result, err
		}
		if !ok {
			result.Parts = append(result.Parts, tok)
			continue
		}
		result.set(name, value)
	}

	// Merge directory-derived entities: they precede filename entities
	// in insertion order, and in Strict mode must agree with any
	// filename value for the same key.
	merged := make([]EntityValue, 0, len(dirEntities)+len(result.Entities))
	merged = append(merged, dirEntities...)
	for _, ev := range result.Entities {
		found := false
		for i, d := range merged {
			if d.Name == ev.Name {
				found = true
				if d.Value != ev.Value {
					if p.Mode == Strict {
						return result, errors.NewInconsistentEntity(ev.Name, d.Value, ev.Value)
					}
					// Permissive: filename value wins.
					merged[i].Value = ev.Value
				}
				break
			}
		}
		if !found {
			merged = append(merged, ev)
		}
	}
	result.Entities = merged

	return result, nil
}

// classifyEntityToken splits a "key-value" token. ok is false if the
// token is not shaped like an entity at all (no dash, or, in Strict
// mode, an unrecognized key). An empty value for an otherwise entity-
// shaped token is always an error.
func (p *Parser) classifyEntityToken(tok string) (name, value string, ok bool, err error) {
	dash := strings.Index(tok, "-")
	if dash <= 0 {
		return "", "", false, nil
	}
	key := tok[:dash]
	val := tok[dash+1:]
	if val == "" {
		return "", "", false, errors.NewInvalidEntityValue(tok)
	}

	if long, known := bidsdict.Lookup(key); known {
		return long, val, true, nil
	}
	if p.Mode == Permissive {
		return key, val, true, nil
	}
	return "", "", false, nil
}

func (p *Parser) permittedInDirectory(name string) bool {
	if p.Mode == Permissive {
		return true
	}
	return bidsdict.PermittedInDirectory(name)
}
