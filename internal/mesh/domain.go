// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package mesh

import (
	"errors"
	"fmt"
)

// ErrUnknownDomain is returned for target domains outside the closed set.
var ErrUnknownDomain = errors.New("unknown target domain")

// Domain is a slice of the global learning state.
type Domain uint8

const (
	DomainWeights Domain = iota + 1
	DomainEmotional
	DomainHyperparameters
)

// Domains lists every domain in a stable order.
var Domains = []Domain{DomainWeights, DomainEmotional, DomainHyperparameters}

func (d Domain) String() string {
	switch d {
	case DomainWeights:
		return "weights"
	case DomainEmotional:
		return "emotional"
	case DomainHyperparameters:
		return "hyperparameters"
	default:
		return fmt.Sprintf("domain(%d)", uint8(d))
	}
}

// Valid reports whether d is one of the known domains.
func (d Domain) Valid() bool {
	return d >= DomainWeights && d <= DomainHyperparameters
}

// ParseDomain maps a wire name to a Domain. "emotions" is accepted as an
// alias of "emotional".
func ParseDomain(s string) (Domain, error) {
	switch s {
	case "weights":
		return DomainWeights, nil
	case "emotional", "emotions":
		return DomainEmotional, nil
	case "hyperparameters":
		return DomainHyperparameters, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDomain, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Domain) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDomain, uint8(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Domain) UnmarshalText(b []byte) error {
	parsed, err := ParseDomain(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
