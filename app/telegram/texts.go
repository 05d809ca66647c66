package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"

	"nuclight.org/xmedia-tg-bot/app/queue"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/sysinfo"
)

const (
	workingEmoji = "👨‍💻"

	welcomeText = "👋 Hi! Send me links to posts on X (Twitter) and I will reply with their photos and videos.\n\n" +
		"Several links in one message are processed one after another.\n\n" +
		"/settings - change what I send\n" +
		"/help - show this message"

	settingsText = "⚙️ <b>Settings</b>\nTap an option to toggle it."
	deletedText  = "Deleted."
	enabledText  = "Enabled"
	disabledText = "Disabled"
)

var settingLabels = map[e.SettingKey]string{
	e.SettingSendText:       "📝 Send post text",
	e.SettingDeleteOriginal: "🗑 Delete my message",
}

func receivedText(n int) string {
	if n == 1 {
		return "📥 Received <b>1</b> link..."
	}
	return fmt.Sprintf("📥 Received <b>%d</b> links...", n)
}

func toggleAnswer(enabled bool) string {
	if enabled {
		return enabledText
	}
	return disabledText
}

func settingsKeyboard(s e.Settings) *e.Keyboard {
	kb := &e.Keyboard{}
	for _, key := range e.SettingKeys {
		state := "❌ Off"
		if s.Get(key) {
			state = "✅ On"
		}
		kb.Rows = append(kb.Rows, []e.Button{{
			Text: settingLabels[key] + ": " + state,
			Data: toggleDataPrefix + string(key),
		}})
	}
	return kb
}

func statsText(users int, q queue.Stats, host sysinfo.Snapshot, hostErr error) string {
	var sb strings.Builder

	sb.WriteString("📊 <b>Statistics</b>\n\n")
	fmt.Fprintf(&sb, "👥 Users: <b>%d</b>\n", users)
	fmt.Fprintf(&sb, "⚙️ Active chat workers: <b>%d</b>\n", q.ActiveWorkers)
	fmt.Fprintf(&sb, "📨 Queued jobs: <b>%d</b>\n\n", q.QueuedJobs)

	if hostErr != nil {
		fmt.Fprintf(&sb, "🖥 Host stats unavailable: <code>%s</code>\n", html.EscapeString(hostErr.Error()))
	} else {
		fmt.Fprintf(&sb, "🧠 Memory: %s / %s (%.1f%%)\n",
			sysinfo.FormatBytes(host.MemUsed), sysinfo.FormatBytes(host.MemTotal), host.MemPercent)
		fmt.Fprintf(&sb, "💾 Disk free: %s / %s\n",
			sysinfo.FormatBytes(host.DiskFree), sysinfo.FormatBytes(host.DiskTotal))
	}

	fmt.Fprintf(&sb, "🧵 Goroutines: %d\n", host.Goroutines)
	fmt.Fprintf(&sb, "⏱ Uptime: %s", host.Uptime.Round(time.Second))

	return sb.String()
}
