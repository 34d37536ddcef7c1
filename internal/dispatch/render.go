package dispatch

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"remindd/internal/channel"
)

// Placeholder title for records whose task was deleted.
const orphanTitle = "Task"

var priorityEmoji = map[string]string{
	"high":   "🔴",
	"medium": "🟡",
	"low":    "🟢",
	"urgent": "🚨",
}

// renderReminder produces the reminder message in all channel
// representations. The body follows the host's template: emoji by
// priority, task name, slot label, fire time, priority, footer with the
// send instant.
func renderReminder(title, label, fireTime, priority string, now time.Time) channel.Message {
	if strings.TrimSpace(title) == "" {
		title = orphanTitle
	}
	if priority == "" {
		priority = "medium"
	}
	emoji, ok := priorityEmoji[priority]
	if !ok {
		emoji = "🟡"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>NHẮC NHỞ TÁC VỤ</b>\n\n", emoji)
	fmt.Fprintf(&b, "📋 <b>Tên tác vụ:</b> %s\n", htmlEscape(title))
	fmt.Fprintf(&b, "🔔 <b>%s</b>\n", htmlEscape(label))
	if fireTime != "" {
		fmt.Fprintf(&b, "⏰ <b>Thời gian:</b> %s\n", htmlEscape(fireTime))
	}
	fmt.Fprintf(&b, "🎯 <b>Mức độ ưu tiên:</b> %s\n\n", strings.ToUpper(priority))
	b.WriteString("💡 Hãy hoàn thành tác vụ trước deadline!")
	fmt.Fprintf(&b, "\n\n<i>Gửi lúc: %s</i>", now.Format("02/01/2006 15:04"))

	html := b.String()
	return channel.Message{
		Subject: "Nhắc nhở: " + title,
		Text:    stripTags(html),
		HTML:    html,
	}
}

// renderDigest produces the daily summary message.
func renderDigest(completed, pending, overdue int, now time.Time) channel.Message {
	var b strings.Builder
	b.WriteString("📊 <b>BÁO CÁO HÀNG NGÀY</b>\n\n")
	fmt.Fprintf(&b, "✅ <b>Hoàn thành:</b> %d\n", completed)
	fmt.Fprintf(&b, "⏳ <b>Đang làm:</b> %d\n", pending)
	fmt.Fprintf(&b, "❌ <b>Quá hạn:</b> %d\n\n", overdue)
	b.WriteString("Chúc bạn một ngày làm việc hiệu quả! 🚀")
	fmt.Fprintf(&b, "\n\n<i>Gửi lúc: %s</i>", now.Format("02/01/2006 15:04"))

	html := b.String()
	return channel.Message{
		Subject: "Báo cáo hàng ngày",
		Text:    stripTags(html),
		HTML:    html,
	}
}

var tagRe = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

func stripTags(html string) string {
	return tagRe.ReplaceAllString(html, "")
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
