package core

import (
	"fmt"
	"strings"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	rule       = "━━━━━━━━━━━━━━━━━━━━━━"
)

// FormatProfile renders a profile view for chat or terminal output.
func FormatProfile(view *ProfileView) string {
	p := view.Profile

	details := "  暂无详细数据"
	if len(view.Dimensions) > 0 {
		details = formatDimensions(view.Dimensions)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "用户印象数据 (ID: %s)\n", p.UserID)
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "印象摘要: %s\n\n", view.Summary)
	fmt.Fprintf(&b, "详细信息:\n%s\n\n", details)
	fmt.Fprintf(&b, "好感度: %.1f/100 (%s)\n", p.AffectionScore, p.AffectionLevel)
	fmt.Fprintf(&b, "累计消息: %d 条\n", p.MessageCount)
	fmt.Fprintf(&b, "更新时间: %s\n", p.UpdatedAt.Local().Format(timeLayout))
	b.WriteString(rule)
	return b.String()
}

// FormatSearch renders a keyword search result.
func FormatSearch(res *SearchResult) string {
	if !res.Found {
		return fmt.Sprintf("用户 %s 暂无印象数据", res.UserID)
	}
	if len(res.Matches) == 0 {
		return fmt.Sprintf("用户 %s 的印象中未找到关键词「%s」的相关内容", res.UserID, res.Keyword)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "用户 %s 印象中找到关键词「%s」的相关内容:\n\n", res.UserID, res.Keyword)
	b.WriteString(formatDimensions(res.Matches))
	fmt.Fprintf(&b, "\n\n好感度: %.1f/100 (%s)", res.Profile.AffectionScore, res.Profile.AffectionLevel)
	fmt.Fprintf(&b, "\n更新时间: %s", res.Profile.UpdatedAt.Local().Format(timeLayout))
	return b.String()
}

// FormatNotFound renders the reply for a user without a profile.
func FormatNotFound(userID string) string {
	return fmt.Sprintf("暂无用户 %s 的印象数据", userID)
}

func formatDimensions(dims []DimensionValue) string {
	lines := make([]string, len(dims))
	for i, d := range dims {
		lines[i] = fmt.Sprintf("  %s: %s", d.Name, d.Value)
	}
	return strings.Join(lines, "\n")
}
