package router

import (
	"html"
	"sort"
	"strings"
)

// HelpText renders help in Telegram HTML. With no args it lists every command
// grouped by section; with a command name it shows that command's details.
func (m *CommandManager) HelpText(args []string) string {
	if len(args) > 0 {
		name := sanitizeCommand(args[0])
		c, ok := m.lookup(name)
		if !ok {
			return "❓ <b>Unknown command</b>\nType <code>/help</code> to see the command list."
		}
		return commandHelp(*c)
	}
	return overviewHelp(m.Commands())
}

func overviewHelp(cmds []Command) string {
	sections := map[string][]Command{}
	var order []string
	for _, c := range cmds {
		sec := strings.TrimSpace(c.Section)
		if sec == "" {
			sec = "Other"
		}
		if _, seen := sections[sec]; !seen {
			order = append(order, sec)
		}
		sections[sec] = append(sections[sec], c)
	}

	lines := []string{"📚 <b>Commands</b>"}
	for _, sec := range order {
		list := sections[sec]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		lines = append(lines, "", "<b>"+html.EscapeString(sec)+"</b>")
		for _, c := range list {
			line := "• <code>" + html.EscapeString(usageOf(c)) + "</code>"
			if d := strings.TrimSpace(c.Description); d != "" {
				line += " - " + html.EscapeString(d)
			}
			if c.Access == AccessOwnerOnly {
				line += " 🔒"
			}
			lines = append(lines, line)
		}
	}
	lines = append(lines, "", "Type <code>/help &lt;command&gt;</code> for details.")
	return strings.Join(lines, "\n")
}

func commandHelp(c Command) string {
	lines := []string{"📚 <b>/" + html.EscapeString(c.Name) + "</b>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 <i>owner only</i>")
	}
	lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(usageOf(c))+"</code>")
	if len(c.Aliases) > 0 {
		al := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			al = append(al, "/"+html.EscapeString(a))
		}
		lines = append(lines, "", "<b>Aliases</b> "+strings.Join(al, ", "))
	}
	return strings.Join(lines, "\n")
}

func usageOf(c Command) string {
	if u := strings.TrimSpace(c.Usage); u != "" {
		return u
	}
	return "/" + c.Name
}
