package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

// Command is one slash command. Names are Telegram-safe ([a-z0-9_]).
type Command struct {
	Name        string
	Aliases     []string
	Section     string // help grouping, e.g. "Reminders"
	Description string
	Usage       string
	Access      Access

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	From    kit.User
	Command string

	// Args are positional tokens (quotes honored, flags removed).
	Args []string
	// ArgText is everything after the command word, untouched.
	ArgText   string
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends an HTML message back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, html, &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true})
	return err
}

// UserHook runs before every accepted command (user bookkeeping).
type UserHook func(ctx context.Context, u kit.User) error

type CommandManager struct {
	mu    sync.RWMutex
	cmds  map[string]*Command
	alias map[string]*Command
	list  []Command

	owners []int64
	onUser UserHook
	onFile HandlerFunc

	log     logx.Logger
	adapter kit.Adapter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		cmds:    map[string]*Command{},
		alias:   map[string]*Command{},
		owners:  append([]int64(nil), owners...),
		log:     log,
		adapter: adapter,
		jobs:    make(chan func(), 256),
	}
}

// Supervisor returns the dispatch loop's supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) SetUserHook(h UserHook) {
	m.mu.Lock()
	m.onUser = h
	m.mu.Unlock()
}

// SetFileHandler routes messages that carry an attachment and no command.
// nil drops them.
func (m *CommandManager) SetFileHandler(h HandlerFunc) {
	m.mu.Lock()
	m.onFile = h
	m.mu.Unlock()
}

// SetRegistry installs cmds plus the built-in /help. Later duplicates of a
// name are ignored.
func (m *CommandManager) SetRegistry(cmds []Command) {
	help := Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Section:     "General",
		Description: "show this help",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.HelpText(req.Args))
		},
	}
	cmds = append(append([]Command(nil), cmds...), help)

	byName := map[string]*Command{}
	alias := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for i := range cmds {
		c := cmds[i]
		c.Name = sanitizeCommand(c.Name)
		if c.Name == "" || c.Handle == nil {
			continue
		}
		if _, dup := byName[c.Name]; dup {
			m.log.Warn("duplicate command ignored", logx.String("cmd", c.Name))
			continue
		}
		cp := c
		byName[c.Name] = &cp
		list = append(list, cp)
	}
	for _, c := range byName {
		for _, a := range c.Aliases {
			a = sanitizeCommand(a)
			if a == "" {
				continue
			}
			if _, taken := byName[a]; taken {
				continue
			}
			alias[a] = c
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.alias = alias
	m.list = list
	m.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.list...)
}

// PublishMenu pushes the command list to the adapter's menu, if it has one.
func (m *CommandManager) PublishMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menuCommands(m.Commands()))
}

func (m *CommandManager) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[word]; ok {
		return c, true
	}
	c, ok := m.alias[word]
	return c, ok
}

// tryEnqueue survives a closed jobs channel during shutdown.
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop reads updates until ctx is done or updates is closed and runs
// accepted commands on a bounded worker pool.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			return m.work(c, idx)
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		m.setSupervisor(sup, false)
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage {
				m.routeMessage(ctx, up)
			}
		}
	}
}

func (m *CommandManager) work(ctx context.Context, idx int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-m.jobs:
			if !ok {
				return nil
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	word, rest, ok := splitCommand(msg.Text)
	if !ok {
		if msg.File != nil {
			m.routeFile(ctx, up)
		}
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, found := m.lookup(word)
	if !found {
		_, _ = m.adapter.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return
	}

	m.mu.RLock()
	owners := m.owners
	hook := m.onUser
	m.mu.RUnlock()
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.From.ID, owners) {
		_, _ = m.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	raw := tokenizeCommandLine(rest)
	pos, flags, bools := parseFlags(raw)
	req := m.newRequest(up, cmd.Name)
	req.Args = pos
	req.ArgText = rest
	req.RawArgs = raw
	req.Flags = flags
	req.BoolFlags = bools

	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWUser(hook),
		MWTimeout(cmd.Timeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, req.Chat, "busy, try again", nil)
	}
}

// fileTimeout bounds a download plus whatever the handler does with it.
const fileTimeout = 2 * time.Minute

func (m *CommandManager) routeFile(ctx context.Context, up kit.Update) {
	m.mu.RLock()
	h := m.onFile
	hook := m.onUser
	m.mu.RUnlock()
	if h == nil {
		return
	}
	req := m.newRequest(up, "")
	final := Chain(
		h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWUser(hook),
		MWTimeout(fileTimeout),
	)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, req.Chat, "busy, try again", nil)
	}
}

func (m *CommandManager) newRequest(up kit.Update, command string) *Request {
	msg := up.Message
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		From:    msg.From,
		Command: command,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.From.ID),
			logx.String("cmd", command),
		),
	}
}

// splitCommand extracts the command word (without "/" and "@botname") and
// the raw remainder of the line.
func splitCommand(text string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, tail, _ := strings.Cut(text, " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		tail = head[i:] + " " + tail
		head = head[:i]
	}
	word = strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", "", false
	}
	return word, strings.TrimSpace(tail), true
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
