package qr

import (
	"context"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	core "remindbot/internal/plugin"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const (
	imageSize  = 256
	captionMax = 1024
)

type Plugin struct {
	core.PluginBase
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "qr" }

func (p *Plugin) Init(ctx context.Context, deps core.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) Commands() []core.Command {
	return []core.Command{
		{
			Name:        "qr",
			Section:     "Utilities",
			Description: "generate a QR code",
			Usage:       "/qr <text or url>",
			Handle:      p.cmdQR,
		},
	}
}

// Encode renders text as a PNG QR code with medium error recovery.
func Encode(text string) ([]byte, error) {
	png, err := qrcode.Encode(text, qrcode.Medium, imageSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

func (p *Plugin) cmdQR(ctx context.Context, req *core.Request) error {
	text := strings.TrimSpace(req.ArgText)
	if text == "" {
		return req.Reply(ctx, core.Usage("/qr <text or url>", "/qr https://github.com"))
	}
	png, err := Encode(text)
	if err != nil {
		req.Logger.Info("qr encode failed", logx.Int("len", len(text)), logx.Err(err))
		return req.Reply(ctx, tgui.B("❌ Text is too long for a QR code.").String())
	}
	_, err = req.Adapter.SendPhoto(ctx, req.Chat, kit.Photo{
		Name:    fmt.Sprintf("qr_%d.png", req.From.ID),
		Data:    png,
		Caption: tgui.TruncRunes(text, captionMax),
	}, nil)
	return err
}
