package delivery

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	e "nuclight.org/xmedia-tg-bot/pkg/entities"
)

const deleteDataPrefix = "post:delete:"

const (
	optionsText    = "🔗 <b>Options:</b>"
	uploadedText   = "✅ The video was too large for a direct reply and has been uploaded to the channel."
	tooLargeText   = "⚠️ The video is larger than %s and no upload channel is configured."
	hugeText       = "⚠️ The video is too large to be delivered even through the channel."
	followUpHeader = "📝 <b>Post text:</b>\n\n"
)

// Caption is the HTML caption of the first delivered item.
func Caption(post *e.Post) string {
	if !post.HasAuthor() {
		return fmt.Sprintf(`🐦 <a href="%s">Video from X</a>`, html.EscapeString(post.Link()))
	}

	name := strings.TrimSpace(post.AuthorName)
	if name == "" {
		name = "Unknown"
	}
	handle := strings.TrimSpace(post.AuthorHandle)
	if handle == "" {
		handle = "unknown"
	}

	return fmt.Sprintf(
		"🐦 <b>by</b> %s (<code>@%s</code>)",
		html.EscapeString(name),
		html.EscapeString(handle),
	)
}

// FollowUpText is the reply carrying the post text, empty when there is none.
func FollowUpText(post *e.Post) string {
	text := strings.TrimSpace(post.Text)
	if text == "" {
		return ""
	}
	return followUpHeader + html.EscapeString(text)
}

func notFoundText(id e.PostID) string {
	return "😕 Couldn't find media for:\n" + html.EscapeString(id.URL())
}

func formatSize(n int64) string {
	const mb = 1 << 20
	if n%mb == 0 {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%.1f MB", float64(n)/mb)
}

// DeleteData is the callback data of the delete button.
func DeleteData(originMessageID int) string {
	return deleteDataPrefix + strconv.Itoa(originMessageID)
}

// ParseDeleteData returns the originating message id encoded by DeleteData.
func ParseDeleteData(data string) (int, bool) {
	rest, ok := strings.CutPrefix(data, deleteDataPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
