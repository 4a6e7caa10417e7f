package transport

import (
	"context"
	"strings"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromName     string
	// Text holds the caption for media messages.
	Text string
	// File is set for media messages.
	File FileRef
	// ReplyTo is the message this one answers, if any.
	ReplyTo *Message
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is one inline keyboard button. Exactly one of URL or Data is set.
type Button struct {
	Text string
	URL  string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Silent delivers without a notification sound.
	Silent bool
	// Buttons are rendered as an inline keyboard, one slice per row.
	Buttons [][]Button
}

// FileRef points at media to send: a platform file id, an http(s) URL or a
// local path, optionally prefixed with its kind ("photo:", "video:", ...).
// Unprefixed refs are sent as documents.
type FileRef string

type MediaKind string

const (
	MediaDocument  MediaKind = "document"
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAudio     MediaKind = "audio"
	MediaAnimation MediaKind = "animation"
)

func NewFileRef(kind MediaKind, src string) FileRef {
	if kind == "" || kind == MediaDocument {
		return FileRef(src)
	}
	return FileRef(string(kind) + ":" + src)
}

// Split returns the media kind and the bare source.
func (f FileRef) Split() (MediaKind, string) {
	s := string(f)
	if i := strings.IndexByte(s, ':'); i > 0 {
		switch k := MediaKind(s[:i]); k {
		case MediaDocument, MediaPhoto, MediaVideo, MediaAudio, MediaAnimation:
			return k, s[i+1:]
		}
	}
	return MediaDocument, s
}

// BotCommand is one entry of the client-side command menu.
type BotCommand struct {
	Command     string
	Description string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendFile(ctx context.Context, to ChatTarget, file FileRef, caption string, opt *SendOptions) (MessageRef, error)
	// Pin pins ref in its chat. notify=false pins silently.
	Pin(ctx context.Context, ref MessageRef, notify bool) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
