package qr

import (
	"bytes"
	"context"
	"strings"
	"testing"

	core "remindbot/internal/plugin"
	"remindbot/internal/plugin/plugintest"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestEncodeProducesPNG(t *testing.T) {
	t.Parallel()
	png, err := Encode("https://github.com")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(png, pngMagic) {
		t.Fatalf("not a png: % x", png[:8])
	}
	if _, err := Encode(strings.Repeat("x", 5000)); err == nil {
		t.Fatal("oversized content should fail")
	}
}

func TestQRCommand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := New()
	if err := p.Init(ctx, core.Deps{}); err != nil {
		t.Fatal(err)
	}
	ad := &plugintest.Adapter{}

	if err := p.cmdQR(ctx, plugintest.Request(ad, 3, "qr", "")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.Last(), "Usage:") {
		t.Fatalf("reply = %q", ad.Last())
	}

	if err := p.cmdQR(ctx, plugintest.Request(ad, 3, "qr", "hello <world>")); err != nil {
		t.Fatal(err)
	}
	photos := ad.Photos()
	if len(photos) != 1 {
		t.Fatalf("photos = %d", len(photos))
	}
	if photos[0].Name != "qr_3.png" || photos[0].Caption != "hello <world>" || !bytes.HasPrefix(photos[0].Data, pngMagic) {
		t.Fatalf("photo = %s %q", photos[0].Name, photos[0].Caption)
	}

	if err := p.cmdQR(ctx, plugintest.Request(ad, 3, "qr", strings.Repeat("y", 5000))); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ad.Last(), "too long") || len(ad.Photos()) != 1 {
		t.Fatalf("oversized reply = %q", ad.Last())
	}
}
