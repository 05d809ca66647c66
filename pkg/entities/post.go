package entities

import (
	"fmt"
	"strings"
)

// PostID is the numeric status id taken from a post URL.
type PostID string

func (id PostID) String() string {
	return string(id)
}

// URL returns the canonical link to the post.
func (id PostID) URL() string {
	return fmt.Sprintf("https://x.com/i/status/%s", id)
}

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindGIF   MediaKind = "gif"
)

// IsVideo reports whether the kind is delivered as a video (gifs included).
func (k MediaKind) IsVideo() bool {
	return k == MediaKindVideo || k == MediaKindGIF
}

// Variant is one encoding of a video or gif item.
type Variant struct {
	URL         string
	Bitrate     int
	ContentType string
}

// MediaItem is a single image or video attached to a post. Path is set once
// the item has been downloaded into a workspace.
type MediaItem struct {
	Kind     MediaKind
	URL      string
	Variants []Variant
	Path     string
	Size     int64
}

// Post is the metadata known about a post. Only ID is guaranteed; the rest
// is filled in when the scrape API answered.
type Post struct {
	ID           PostID
	URL          string
	AuthorName   string
	AuthorHandle string
	Text         string
	Media        []MediaItem
}

// Link returns the post URL, falling back to the canonical one.
func (p *Post) Link() string {
	if p.URL != "" {
		return p.URL
	}
	return p.ID.URL()
}

// HasAuthor reports whether author metadata is present.
func (p *Post) HasAuthor() bool {
	return strings.TrimSpace(p.AuthorName) != "" || strings.TrimSpace(p.AuthorHandle) != ""
}
