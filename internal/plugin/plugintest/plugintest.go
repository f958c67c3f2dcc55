// Package plugintest provides a recording chat adapter and request builder
// for command handler tests.
package plugintest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	kit "remindbot/internal/transport"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

// Adapter records everything sent through it.
type Adapter struct {
	mu     sync.Mutex
	texts  []string
	photos []kit.Photo
	docs   []kit.Document
	files  map[string][]byte
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(ctx context.Context) error                         { return nil }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.texts)}, nil
}

func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, p kit.Photo, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.photos = append(a.photos, p)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, d kit.Document, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.docs = append(a.docs, d)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

// AddFile makes data downloadable under fileID.
func (a *Adapter) AddFile(fileID string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.files == nil {
		a.files = map[string][]byte{}
	}
	a.files[fileID] = data
}

func (a *Adapter) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %q not found", fileID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (a *Adapter) Texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

// Last returns the most recent text, or "".
func (a *Adapter) Last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.texts) == 0 {
		return ""
	}
	return a.texts[len(a.texts)-1]
}

func (a *Adapter) Photos() []kit.Photo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.Photo(nil), a.photos...)
}

func (a *Adapter) Documents() []kit.Document {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.Document(nil), a.docs...)
}

// Request builds a command request from user id in their private chat.
func Request(a *Adapter, userID int64, command, argText string) *router.Request {
	return &router.Request{
		Chat:    kit.ChatTarget{ChatID: userID},
		From:    kit.User{ID: userID, FirstName: "Tester"},
		Command: command,
		Args:    strings.Fields(argText),
		ArgText: strings.TrimSpace(argText),
		Adapter: a,
		Logger:  logx.Nop(),
	}
}

// Upload builds the request a file handler sees when userID sends att.
func Upload(a *Adapter, userID int64, att kit.Attachment) *router.Request {
	req := Request(a, userID, "", "")
	req.Update = kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: userID,
		From:   req.From,
		File:   &att,
	}}
	return req
}
