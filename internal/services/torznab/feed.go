// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/streamsel/streamsel/internal/models"
)

type rssFeed struct {
	Channel struct {
		Items []feedItem `xml:"item"`
	} `xml:"channel"`
}

type feedItem struct {
	Title     string `xml:"title"`
	Link      string `xml:"link"`
	Size      int64  `xml:"size"`
	Enclosure struct {
		URL    string `xml:"url,attr"`
		Length int64  `xml:"length,attr"`
	} `xml:"enclosure"`
	Attrs []feedAttr `xml:"attr"`
}

type feedAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func (it feedItem) attr(name string) string {
	for _, a := range it.Attrs {
		if strings.EqualFold(a.Name, name) {
			return a.Value
		}
	}
	return ""
}

// parseFeed decodes a Torznab search response. Items missing a title or any
// usable download reference are dropped with a log line; missing numeric
// attributes default to zero.
func parseFeed(r io.Reader, indexer string) ([]models.ReleaseCandidate, error) {
	var feed rssFeed
	if err := xml.NewDecoder(r).Decode(&feed); err != nil {
		return nil, errors.Wrap(err, "decode feed")
	}

	cands := make([]models.ReleaseCandidate, 0, len(feed.Channel.Items))
	for _, it := range feed.Channel.Items {
		cand, ok := itemToCandidate(it, indexer)
		if !ok {
			log.Debug().Str("indexer", indexer).Str("title", it.Title).Msg("skipping malformed feed item")
			continue
		}
		cands = append(cands, cand)
	}
	return cands, nil
}

func itemToCandidate(it feedItem, indexer string) (models.ReleaseCandidate, bool) {
	title := strings.TrimSpace(it.Title)
	if title == "" {
		return models.ReleaseCandidate{}, false
	}

	cand := models.ReleaseCandidate{
		Title:     title,
		Link:      it.Link,
		MagnetURI: it.attr("magneturl"),
		InfoHash:  strings.ToLower(it.attr("infohash")),
		Indexers:  []string{indexer},
	}
	if cand.Link == "" {
		cand.Link = it.Enclosure.URL
	}
	if !cand.Streamable() {
		return models.ReleaseCandidate{}, false
	}

	if v := it.attr("seeders"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cand.Seeders = n
		}
	}

	cand.Size = it.Size
	if cand.Size == 0 {
		if v := it.attr("size"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				cand.Size = n
			}
		}
	}
	if cand.Size == 0 && it.Enclosure.Length > 0 {
		cand.Size = it.Enclosure.Length
	}

	return cand, true
}
