package notification

import (
	"fmt"
	"strings"
)

const boxWidth = 40

// Title is the one-line summary used by channels that carry a separate subject.
func Title(msg Message) string {
	level := strings.ToUpper(msg.Level)
	if msg.Count > 1 {
		return fmt.Sprintf("[%s] %s (%d alerts)", level, msg.Source, msg.Count)
	}
	return fmt.Sprintf("[%s] %s", level, msg.Source)
}

// Render draws the plain-text alert box sent to chat recipients.
func Render(msg Message) string {
	mark := "i "
	if msg.Critical() {
		mark = "!!"
	}
	level := strings.ToUpper(msg.Level)
	ts := msg.Timestamp.Format("15:04:05")

	var lines []string
	lines = append(lines, border())
	if msg.Count > 1 {
		lines = append(lines, row(fmt.Sprintf("[%s] %s (%d alerts)", mark, level, msg.Count)))
	} else {
		lines = append(lines, row(fmt.Sprintf("[%s] %s  %s", mark, level, ts)))
	}
	lines = append(lines, border(), row(""))
	if msg.Count > 1 {
		lines = append(lines, row("Latest: "+clip(msg.Text, boxWidth-12)))
	} else {
		lines = append(lines, row(clip(msg.Text, boxWidth-4)))
	}
	lines = append(lines, row("Source: "+clip(msg.Source, boxWidth-12)))
	if msg.Count > 1 {
		lines = append(lines, row("Time: "+ts))
	}
	if msg.ID != "" {
		lines = append(lines, row("ID: "+msg.ID))
	}
	lines = append(lines, row(""), border())
	return strings.Join(lines, "\n")
}

func border() string {
	return "+" + strings.Repeat("-", boxWidth) + "+"
}

func row(content string) string {
	pad := boxWidth - 2 - len([]rune(content))
	if pad < 0 {
		pad = 0
	}
	return "|  " + content + strings.Repeat(" ", pad) + "|"
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
