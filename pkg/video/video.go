// Package video defines the video records produced by parsing search
// results and detail pages.
package video

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ParsedVideo is one search result card.
type ParsedVideo struct {
	ID       int64  `json:"id" yaml:"id" validate:"gt=0"`
	ImageURL string `json:"image_url" yaml:"image_url" validate:"required"`
	Duration string `json:"duration" yaml:"duration"` // MM:SS, empty when absent
	Title    string `json:"title" yaml:"title"`
	Date     string `json:"date" yaml:"date"`
	Author   string `json:"author" yaml:"author"`
	Likes    int64  `json:"likes" yaml:"likes" validate:"gte=0"`
}

// SourcedVideo is a video selected for download, with its media URLs.
type SourcedVideo struct {
	ParsedVideo `yaml:",inline"`
	Sources     []string `json:"sources" yaml:"sources" validate:"required,min=1,dive,required"`
}

// URL returns the first media source, or "" if there is none.
func (v SourcedVideo) URL() string {
	if len(v.Sources) == 0 {
		return ""
	}
	return v.Sources[0]
}

var validate = validator.New()

// Validate checks the parsed fields.
func (v ParsedVideo) Validate() error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid video %d: %w", v.ID, err)
	}
	return nil
}

// Validate checks that at least one non-empty source is present. The card
// fields are not checked: a video opened by id carries only its ID.
func (v SourcedVideo) Validate() error {
	if v.ID <= 0 {
		return fmt.Errorf("invalid video id %d", v.ID)
	}
	if err := validate.StructPartial(v, "Sources"); err != nil {
		return fmt.Errorf("invalid video %d: %w", v.ID, err)
	}
	return nil
}
