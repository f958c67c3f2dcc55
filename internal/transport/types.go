package transport

import (
	"context"
	"io"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID       int
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
	From     User
	Text     string // caption for media messages
	IsGroup  bool
	File     *Attachment
}

type AttachmentKind string

const (
	AttachmentDocument AttachmentKind = "document"
	AttachmentPhoto    AttachmentKind = "photo"
)

// Attachment describes a file sent to the bot. The bytes are fetched on
// demand through a FileDownloader.
type Attachment struct {
	Kind     AttachmentKind
	FileID   string
	UniqueID string
	Name     string // sender's file name; empty for photos
	MIME     string
	Size     int64 // as reported by the platform; 0 if unknown
}

// User is the sender of a message as reported by the chat platform.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

const ParseModeHTML = "HTML"

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Photo is an in-memory image upload.
type Photo struct {
	Name    string
	Data    []byte
	Caption string
}

// Document is an in-memory file upload.
type Document struct {
	Name    string
	Data    []byte
	Caption string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, p Photo, opt *SendOptions) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, d Document, opt *SendOptions) (MessageRef, error)
}

// FileDownloader is implemented by adapters that can fetch attachments.
// The caller closes the reader.
type FileDownloader interface {
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// BotCommand is a single entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command
// menu (Telegram setMyCommands).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
