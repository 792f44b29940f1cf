// Package metadata builds the title, description and status fields attached
// to an uploaded reel. Everything here is pure: the same caption and instant
// always yield the same Metadata.
package metadata

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"google.golang.org/api/youtube/v3"
)

type Visibility string

const (
	Public   Visibility = "public"
	Unlisted Visibility = "unlisted"
	Private  Visibility = "private"
)

func ParseVisibility(s string) (Visibility, error) {
	switch v := Visibility(strings.ToLower(strings.TrimSpace(s))); v {
	case Public, Unlisted, Private:
		return v, nil
	case "":
		return Public, nil
	default:
		return "", fmt.Errorf("invalid visibility %q: want public, unlisted or private", s)
	}
}

const (
	// FallbackCaption stands in for a missing or empty caption.
	FallbackCaption = "जय श्री कृष्णा 🌸🦚"

	// DefaultCategory is YouTube's "People & Blogs".
	DefaultCategory = "22"

	titleSuffix   = "कृष्ण भक्ति शॉर्ट्स"
	tagline       = "Daily Krishna motivation & bhakti reels."
	dateLayout    = "02 Jan 2006"
	maxTitleRunes = 100
)

var topicTags = []string{"krishna", "jaishreekrishna", "shorts"}

type Options struct {
	Visibility  Visibility
	MadeForKids bool
	Category    string
}

func DefaultOptions() Options {
	return Options{
		Visibility:  Public,
		MadeForKids: true,
		Category:    DefaultCategory,
	}
}

type Metadata struct {
	Title       string
	Description string
	Category    string
	Tags        []string
	Visibility  Visibility
	MadeForKids bool
}

// Build derives upload metadata from a caption line and the current time.
// The date in the title is always rendered in UTC. A caption too long for
// YouTube's 100-character title limit is shortened in the title; the
// description always carries it in full.
func Build(caption string, now time.Time, opts Options) Metadata {
	caption = CleanCaption(caption)
	if caption == "" {
		caption = FallbackCaption
	}

	if opts.Visibility == "" {
		opts.Visibility = Public
	}
	if opts.Category == "" {
		opts.Category = DefaultCategory
	}

	return Metadata{
		Title:       buildTitle(caption, now.UTC().Format(dateLayout)),
		Description: buildDescription(caption),
		Category:    opts.Category,
		Tags:        append([]string(nil), topicTags...),
		Visibility:  opts.Visibility,
		MadeForKids: opts.MadeForKids,
	}
}

// CleanCaption keeps the first line of raw, strips wrapping quotes, bullets
// and dashes, and collapses runs of whitespace.
func CleanCaption(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text, _, _ = strings.Cut(text, "\n")
	text = strings.TrimSpace(text)

	const wrappers = "\"“”'‘’-•"
	for {
		trimmed := strings.TrimSpace(strings.Trim(text, wrappers))
		if trimmed == text {
			break
		}
		text = trimmed
	}

	return strings.Join(strings.Fields(text), " ")
}

func buildTitle(caption, date string) string {
	// YouTube rejects angle brackets in titles.
	caption = strings.TrimSpace(strings.NewReplacer("<", "", ">", "").Replace(caption))
	if caption == "" {
		caption = FallbackCaption
	}
	tail := fmt.Sprintf(" | %s | %s", titleSuffix, date)

	budget := maxTitleRunes - utf8.RuneCountInString(tail)
	if utf8.RuneCountInString(caption) > budget {
		caption = strings.TrimSpace(string([]rune(caption)[:budget-1])) + "…"
	}

	return caption + tail
}

func buildDescription(caption string) string {
	hashtags := make([]string, len(topicTags))
	for i, tag := range topicTags {
		hashtags[i] = "#" + tag
	}
	return caption + "\n\n" + tagline + "\n" + strings.Join(hashtags, " ")
}

// Video renders m as the resource body of a videos.insert call.
func (m Metadata) Video() *youtube.Video {
	return &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       m.Title,
			Description: m.Description,
			CategoryId:  m.Category,
			Tags:        m.Tags,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           string(m.Visibility),
			SelfDeclaredMadeForKids: m.MadeForKids,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}
}
