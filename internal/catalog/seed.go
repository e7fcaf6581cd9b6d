// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package catalog

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoadSeed reads items from a YAML (or JSON) file shaped as
//
//	items:
//	  - id: m-1
//	    title: The Thing
//	    genres: [Horror, Sci-Fi]
//	    language: en
//	    year: 1982
//	    rating: 8.2
func LoadSeed(path string) ([]Item, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load catalog seed %s: %w", path, err)
	}
	var items []Item
	if err := k.Unmarshal("items", &items); err != nil {
		return nil, fmt.Errorf("decode catalog seed %s: %w", path, err)
	}
	return items, nil
}
