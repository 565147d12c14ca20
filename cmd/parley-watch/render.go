// ABOUTME: Terminal rendering of the synchronized conversation list
// ABOUTME: One line per conversation with its title and latest message

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/samber/lo"

	"github.com/2389/parley/internal/conversation"
)

// maxPreview bounds the message preview width.
const maxPreview = 60

// title names a conversation from self's point of view: the group name, or
// the other members.
func title(s conversation.Summary, self string) string {
	if s.IsGroup && s.Name != "" {
		return s.Name
	}
	others := lo.FilterMap(s.Members, func(m conversation.Member, _ int) (string, bool) {
		if m.Email == self {
			return "", false
		}
		if m.Name != "" {
			return m.Name, true
		}
		return m.Email, true
	})
	if len(others) == 0 {
		return s.ID
	}
	return strings.Join(others, ", ")
}

// preview describes the latest message.
func preview(s conversation.Summary) string {
	last, ok := s.LastMessage()
	if !ok {
		return "Started a conversation"
	}
	text := last.Body
	if text == "" && last.Image != "" {
		text = "Sent an image"
	}
	if len([]rune(text)) > maxPreview {
		text = string([]rune(text)[:maxPreview-1]) + "…"
	}
	return text
}

// renderList writes the list, marking the open conversation.
func renderList(w io.Writer, list conversation.List, self, openID string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Fprintf(w, "── conversations (%d) ──\n", len(list))
	for _, s := range list {
		marker := "  "
		if s.ID == openID {
			marker = green.Sprint("▶ ")
		}
		fmt.Fprintf(w, "%s%s ", marker, title(s, self))
		gray.Fprintf(w, "%s\n", preview(s))
	}
}
