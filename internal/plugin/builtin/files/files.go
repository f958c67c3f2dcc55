package files

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	core "remindbot/internal/plugin"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const (
	DefaultDir      = "data/files"
	DefaultMaxBytes = 20 << 20
)

type Options struct {
	// Dir is the host directory holding one subdirectory per user. Ignored
	// when Fs is set.
	Dir      string
	MaxBytes int64
	Fs       afero.Fs
}

type Plugin struct {
	core.PluginBase
	opts  Options
	store *Store

	mu   sync.Mutex
	last map[int64]string // newest upload or conversion per user
}

func New(opts Options) *Plugin { return &Plugin{opts: opts} }

func (p *Plugin) Name() string { return "files" }

func (p *Plugin) Init(ctx context.Context, deps core.Deps) error {
	p.InitBase(deps, p.Name())
	fs := p.opts.Fs
	if fs == nil {
		dir := p.opts.Dir
		if strings.TrimSpace(dir) == "" {
			dir = DefaultDir
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("files dir: %w", err)
		}
		if err := afero.NewOsFs().MkdirAll(abs, 0o755); err != nil {
			return fmt.Errorf("files dir: %w", err)
		}
		fs = afero.NewBasePathFs(afero.NewOsFs(), abs)
		p.Log.Info("file storage ready", logx.String("dir", abs))
	}
	maxBytes := p.opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	p.store = NewStore(fs, maxBytes)
	p.last = map[int64]string{}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{Name: "files_list", Section: "Files", Description: "view saved files", Usage: "/files_list", Handle: p.cmdList},
		{Name: "files_get", Section: "Files", Description: "download a saved file", Usage: "/files_get <name>", Handle: p.cmdGet},
		{Name: "convert_png", Section: "Files", Description: "convert the last image to PNG", Usage: "/convert_png", Handle: p.cmdConvertPNG},
		{Name: "convert_jpg", Section: "Files", Description: "convert the last image to JPG", Usage: "/convert_jpg", Handle: p.cmdConvertJPG},
	}
}

func (p *Plugin) setLast(userID int64, name string) {
	p.mu.Lock()
	p.last[userID] = name
	p.mu.Unlock()
}

func (p *Plugin) lastFile(userID int64) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[userID]
}

// uploadName is the sender's file name, or one derived from the unique id.
func uploadName(att *kit.Attachment) string {
	id := att.UniqueID
	if id == "" {
		id = att.FileID
	}
	if att.Kind == kit.AttachmentPhoto {
		return "photo_" + id + ".jpg"
	}
	if name := CleanName(att.Name); name != "" {
		return name
	}
	return "file_" + id
}

// HandleFile saves a document or photo into the sender's directory.
func (p *Plugin) HandleFile(ctx context.Context, req *core.Request) error {
	msg := req.Update.Message
	if msg == nil || msg.File == nil {
		return nil
	}
	att := msg.File
	if att.Size > p.store.MaxBytes() {
		return p.replyTooLarge(ctx, req)
	}
	dl, ok := req.Adapter.(kit.FileDownloader)
	if !ok {
		return errors.New("adapter cannot download files")
	}
	rc, err := dl.Download(ctx, att.FileID)
	if err != nil {
		req.Logger.Warn("file download failed", logx.String("file_id", att.FileID), logx.Err(err))
		return req.Reply(ctx, tgui.B("❌ Could not download the file.").String())
	}
	defer rc.Close()

	name, n, err := p.store.Save(req.From.ID, uploadName(att), rc)
	switch {
	case errors.Is(err, ErrTooLarge):
		return p.replyTooLarge(ctx, req)
	case err != nil:
		return fmt.Errorf("save upload: %w", err)
	}
	p.setLast(req.From.ID, name)
	req.Logger.Info("file saved", logx.String("name", name), logx.Int64("bytes", n))

	var m tgui.Msg
	m.Line(tgui.B("✅ File saved!")).Blank().
		Line("📁 ", tgui.Code(name)).Blank().
		Line("Use ", tgui.Code("/files_list"), " to view all files or ",
			tgui.Code("/convert_png"), " ", tgui.Code("/convert_jpg"), " to convert images.")
	return req.Reply(ctx, m.String())
}

func (p *Plugin) replyTooLarge(ctx context.Context, req *core.Request) error {
	var m tgui.Msg
	m.Line(tgui.B("❌ File too large.")).Blank().
		Line("The limit is ", tgui.Code(fmt.Sprintf("%d MB", p.store.MaxBytes()>>20)), ".")
	return req.Reply(ctx, m.String())
}

func (p *Plugin) cmdList(ctx context.Context, req *core.Request) error {
	list, err := p.store.List(req.From.ID)
	if err != nil {
		return err
	}
	var m tgui.Msg
	if len(list) == 0 {
		m.Line("📁 ", tgui.B("No files saved yet.")).Blank().
			Text("Send a file or photo to get started!")
		return req.Reply(ctx, m.String())
	}
	m.Line("📁 ", tgui.B("Your Files:")).Blank()
	for i, e := range list {
		m.Line(tgui.Code(fmt.Sprint(i+1)), ". ", tgui.Esc(e.Name))
	}
	return req.Reply(ctx, m.String())
}

func (p *Plugin) cmdGet(ctx context.Context, req *core.Request) error {
	name := strings.TrimSpace(req.ArgText)
	if name == "" {
		return req.Reply(ctx, core.Usage("/files_get <name>", "/files_get photo_123.jpg"))
	}
	data, err := p.store.Read(req.From.ID, name)
	if errors.Is(err, ErrNotFound) {
		var m tgui.Msg
		m.Line(tgui.B("❌ File not found.")).Blank().
			Line("Use ", tgui.Code("/files_list"), " to see available files.")
		return req.Reply(ctx, m.String())
	}
	if err != nil {
		return err
	}
	if err := req.Reply(ctx, tgui.B("📤 Sending file...").String()); err != nil {
		return err
	}
	_, err = req.Adapter.SendDocument(ctx, req.Chat, kit.Document{Name: name, Data: data}, nil)
	return err
}

func (p *Plugin) cmdConvertPNG(ctx context.Context, req *core.Request) error {
	return p.convert(ctx, req, PNG)
}

func (p *Plugin) cmdConvertJPG(ctx context.Context, req *core.Request) error {
	return p.convert(ctx, req, JPG)
}

// convert turns the user's newest file into f and sends the result back.
// The converted file becomes the newest file.
func (p *Plugin) convert(ctx context.Context, req *core.Request, f Format) error {
	uid := req.From.ID
	last := p.lastFile(uid)
	if last == "" {
		var m tgui.Msg
		m.Line(tgui.B("❌ No image found.")).Blank().
			Line("Send an image first, then run ", tgui.Code("/convert_png"), " or ", tgui.Code("/convert_jpg"), ".")
		return req.Reply(ctx, m.String())
	}
	notImage := func() error {
		var m tgui.Msg
		m.Line(tgui.B("❌ Last file is not an image.")).Blank().
			Text("Please send a valid image file.")
		return req.Reply(ctx, m.String())
	}
	if !IsImage(last) {
		return notImage()
	}
	src, err := p.store.Read(uid, last)
	if errors.Is(err, ErrNotFound) {
		return notImage()
	}
	if err != nil {
		return err
	}

	upper := strings.ToUpper(string(f))
	if err := req.Reply(ctx, tgui.B("🔄 Converting to "+upper+"...").String()); err != nil {
		return err
	}
	out, err := Convert(src, f)
	if err != nil {
		req.Logger.Info("image conversion failed", logx.String("name", last), logx.Err(err))
		return notImage()
	}
	name := ConvertedName(last, f)
	if err := p.store.Write(uid, name, out); err != nil {
		return fmt.Errorf("store converted image: %w", err)
	}
	p.setLast(uid, name)

	var m tgui.Msg
	m.Line(tgui.B("✅ Conversion complete!")).Blank().Line("📄 ", tgui.Code(name))
	if err := req.Reply(ctx, m.String()); err != nil {
		return err
	}
	_, err = req.Adapter.SendDocument(ctx, req.Chat, kit.Document{Name: name, Data: out}, nil)
	return err
}
