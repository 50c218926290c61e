// Package parser extracts video records from the raw HTML fragments the
// scraper returns. Records are validated before they are returned.
package parser

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/randouyin/internal/logger"
	"github.com/jmylchreest/randouyin/pkg/video"
)

var (
	// ErrNoContainer means the fragment has no waterfall_item_<id> element.
	ErrNoContainer = errors.New("card container not found")
	// ErrNoImage means the card has no cover image.
	ErrNoImage = errors.New("card image not found")
	// ErrNoSources means the video element carries no src.
	ErrNoSources = errors.New("video sources not found")
)

var (
	containerID = regexp.MustCompile(`^waterfall_item_(\d+)$`)
	durationRe  = regexp.MustCompile(`^\d{2}:\d{2}$`)
	metaSep     = regexp.MustCompile(`\s*·\s*`)
)

func parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return doc, nil
}

func container(doc *goquery.Document) (*goquery.Selection, int64, error) {
	var (
		found *goquery.Selection
		id    int64
	)
	doc.Find(`div[id^="waterfall_item_"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m := containerID.FindStringSubmatch(s.AttrOr("id", ""))
		if m == nil {
			return true
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return true
		}
		found, id = s, n
		return false
	})
	if found == nil {
		return nil, 0, ErrNoContainer
	}
	return found, id, nil
}

// ParseID returns the video id of a search result card.
func ParseID(cardHTML string) (int64, error) {
	doc, err := parse(cardHTML)
	if err != nil {
		return 0, err
	}
	_, id, err := container(doc)
	return id, err
}

// ParseVideoCard extracts a ParsedVideo from a search result card. Only the
// id and the cover image are required; other fields are left empty when
// the card does not show them.
func ParseVideoCard(cardHTML string) (video.ParsedVideo, error) {
	doc, err := parse(cardHTML)
	if err != nil {
		return video.ParsedVideo{}, err
	}
	c, id, err := container(doc)
	if err != nil {
		return video.ParsedVideo{}, err
	}

	v := video.ParsedVideo{ID: id}

	img := c.Find("img[src]").First()
	if img.Length() == 0 {
		return video.ParsedVideo{}, ErrNoImage
	}
	v.ImageURL = img.AttrOr("src", "")

	leaves := c.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Children().Length() == 0
	})
	leaves.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := strings.TrimSpace(s.Text()); durationRe.MatchString(t) {
			v.Duration = t
			return false
		}
		return true
	})

	if likes := c.Find("svg").First().NextFiltered("span"); likes.Length() > 0 {
		v.Likes = parseCount(likes.Text())
	}

	cover := c.Find(`div[style*="padding-top"]`).First()
	title := cover.Next().Find("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Children().Length() == 0
	}).First()
	v.Title = strings.TrimSpace(title.Text())
	if v.Title == "" {
		v.Title = strings.TrimSpace(img.AttrOr("alt", ""))
	}

	divs := c.Find("div")
	for i := divs.Length() - 1; i >= 0; i-- {
		txt := strings.TrimSpace(divs.Eq(i).Text())
		if !strings.Contains(txt, "@") {
			continue
		}
		parts := metaSep.Split(txt, 2)
		v.Author = strings.TrimPrefix(strings.TrimSpace(parts[0]), "@")
		if len(parts) > 1 {
			v.Date = strings.TrimSpace(parts[1])
		}
		break
	}

	if err := v.Validate(); err != nil {
		return video.ParsedVideo{}, err
	}
	return v, nil
}

// ParseVideoCards parses a batch of cards, dropping live broadcasts and
// cards that do not yield a valid video.
func ParseVideoCards(cards []string, liveMarker string) []video.ParsedVideo {
	videos := make([]video.ParsedVideo, 0, len(cards))
	for _, card := range cards {
		if IsLive(card, liveMarker) {
			continue
		}
		v, err := ParseVideoCard(card)
		if err != nil {
			logger.Debug("skipping unparseable card", "error", err)
			continue
		}
		videos = append(videos, v)
	}
	return videos
}

// parseCount reads counters such as "1523", "1.2万" or "3亿". Unreadable
// counters are 0.
func parseCount(s string) int64 {
	s = strings.TrimSpace(s)
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "万"):
		mult, s = 1e4, strings.TrimSuffix(s, "万")
	case strings.HasSuffix(s, "亿"):
		mult, s = 1e8, strings.TrimSuffix(s, "亿")
	case strings.HasSuffix(s, "w"), strings.HasSuffix(s, "W"):
		mult, s = 1e4, s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return int64(math.Round(f * mult))
}

// ParseSingleVideoTag collects the media URLs of a video element: its own
// src and those of its <source> children, de-duplicated in document order.
// Protocol-relative URLs are resolved to https.
func ParseSingleVideoTag(parsed video.ParsedVideo, tagHTML string) (video.SourcedVideo, error) {
	doc, err := parse(tagHTML)
	if err != nil {
		return video.SourcedVideo{}, err
	}

	var sources []string
	seen := make(map[string]bool)
	doc.Find("video[src], video source[src]").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			return
		}
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		if seen[src] {
			return
		}
		seen[src] = true
		sources = append(sources, src)
	})

	if len(sources) == 0 {
		return video.SourcedVideo{}, ErrNoSources
	}
	sourced := video.SourcedVideo{ParsedVideo: parsed, Sources: sources}
	if err := sourced.Validate(); err != nil {
		return video.SourcedVideo{}, err
	}
	return sourced, nil
}

// IsLive reports whether a card is a live broadcast rather than a video.
func IsLive(cardHTML, marker string) bool {
	return marker != "" && strings.Contains(cardHTML, marker)
}
