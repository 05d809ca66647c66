package delivery

import (
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
)

const DefaultAlbumSize = 5

type StepKind string

const (
	// StepAlbum sends up to AlbumSize photos as one media group
	StepAlbum StepKind = "album"

	// StepVideo sends one video through the bot
	StepVideo StepKind = "video"

	// StepLargeVideo goes through the upload channel and is confirmed with a reply
	StepLargeVideo StepKind = "large_video"
)

// Step is one outgoing message (or media group).
type Step struct {
	Kind     StepKind
	Items    []e.MediaItem
	Caption  string
	Keyboard *e.Keyboard
}

// Plan is everything that has to be sent for one post, in order.
type Plan struct {
	Steps        []Step
	FollowUpText string
}

type PlanOptions struct {
	SendText        bool
	MaxFileSize     int64
	AlbumSize       int
	OriginMessageID int
}

// BuildPlan batches photos into albums first, then videos one by one. The
// caption goes on the first item of the first step and only when SendText is
// on. The keyboard goes on the last step only, so a post gets one set of
// action controls.
func BuildPlan(post *e.Post, items []e.MediaItem, opts PlanOptions) Plan {
	albumSize := opts.AlbumSize
	if albumSize <= 0 {
		albumSize = DefaultAlbumSize
	}

	var photos, videos []e.MediaItem
	for _, item := range items {
		switch {
		case item.Kind == e.MediaKindImage:
			photos = append(photos, item)
		case item.Kind.IsVideo():
			videos = append(videos, item)
		}
	}

	var plan Plan

	for start := 0; start < len(photos); start += albumSize {
		end := min(start+albumSize, len(photos))
		plan.Steps = append(plan.Steps, Step{Kind: StepAlbum, Items: photos[start:end]})
	}

	for _, v := range videos {
		kind := StepVideo
		if opts.MaxFileSize > 0 && v.Size > opts.MaxFileSize {
			kind = StepLargeVideo
		}
		plan.Steps = append(plan.Steps, Step{Kind: kind, Items: []e.MediaItem{v}})
	}

	if len(plan.Steps) == 0 {
		return plan
	}

	plan.Steps[len(plan.Steps)-1].Keyboard = PostKeyboard(post, opts.OriginMessageID)

	if opts.SendText {
		plan.Steps[0].Caption = Caption(post)
		plan.FollowUpText = FollowUpText(post)
	}

	return plan
}

// PostKeyboard builds the action controls of a delivered post.
func PostKeyboard(post *e.Post, originMessageID int) *e.Keyboard {
	return &e.Keyboard{Rows: [][]e.Button{{
		{Text: "🔗 Original link", URL: post.Link()},
		{Text: "🗑 Delete", Data: DeleteData(originMessageID)},
	}}}
}
