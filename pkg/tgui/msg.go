package tgui

import (
	"context"
	"strings"

	kit "remindbot/internal/transport"
)

// TextSender is the part of an adapter a Message needs.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Msg accumulates lines of HTML. The zero value is ready to use.
//
//	var m tgui.Msg
//	m.Title("⏰", "Your Reminders").Line(tgui.Code("1"), tgui.Esc(". text"))
//	_, err := m.Send(ctx, adapter, chat)
type Msg struct {
	lines []string
}

// Title appends "<icon> <b>title</b>".
func (m *Msg) Title(icon, title string) *Msg {
	h := B(title)
	if icon != "" {
		h = H(icon + " " + h.String())
	}
	return m.Line(h)
}

// Line appends the parts concatenated.
func (m *Msg) Line(parts ...H) *Msg {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.String())
	}
	m.lines = append(m.lines, b.String())
	return m
}

// Text appends escaped plain text.
func (m *Msg) Text(s string) *Msg { return m.Line(Esc(s)) }

// Blank appends an empty line, collapsing repeats.
func (m *Msg) Blank() *Msg {
	if n := len(m.lines); n > 0 && m.lines[n-1] == "" {
		return m
	}
	m.lines = append(m.lines, "")
	return m
}

func (m *Msg) Len() int { return len(m.lines) }

func (m *Msg) HTML() H {
	return H(strings.TrimRight(strings.Join(m.lines, "\n"), "\n"))
}

func (m *Msg) String() string { return m.HTML().String() }

// Send delivers the message as HTML with link previews disabled.
func (m *Msg) Send(ctx context.Context, to TextSender, chat kit.ChatTarget) (kit.MessageRef, error) {
	return to.SendText(ctx, chat, m.String(), &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true})
}
