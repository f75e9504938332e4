// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Caps describes what an indexer advertises through `t=caps`. Only the
// search parameter surface matters here; category trees are ignored.
type Caps struct {
	SupportedParams []string
}

// Supports reports whether the indexer advertises the given search parameter.
func (c *Caps) Supports(param string) bool {
	for _, p := range c.SupportedParams {
		if strings.EqualFold(p, param) {
			return true
		}
	}
	return false
}

type capsDoc struct {
	Searching struct {
		Modes []capsSearchMode `xml:",any"`
	} `xml:"searching"`
}

type capsSearchMode struct {
	XMLName         xml.Name
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr"`
}

// parseCaps extracts the union of supportedParams across every available
// search mode in the caps document.
func parseCaps(r io.Reader) (*Caps, error) {
	var doc capsDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode caps")
	}

	seen := make(map[string]struct{})
	caps := &Caps{}
	for _, mode := range doc.Searching.Modes {
		if strings.EqualFold(mode.Available, "no") {
			continue
		}
		for _, p := range strings.Split(mode.SupportedParams, ",") {
			p = strings.TrimSpace(strings.ToLower(p))
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			caps.SupportedParams = append(caps.SupportedParams, p)
		}
	}
	return caps, nil
}
