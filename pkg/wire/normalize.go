// Package wire turns the server's loosely-typed JSON frames into
// canonical model values. The server has shipped several frame shapes
// over time; everything here is written to accept all of them and
// degrade instead of failing.
package wire

import (
	"strings"
	"time"

	"github.com/kritsw/chat-session/pkg/model"
)

// IDSource supplies ids for messages that arrive without one.
type IDSource interface {
	NextLocal() string
}

// Normalizer maps arbitrary decoded wire values onto model.Message.
// Normalize is total: it never panics and only reports false for
// nil input. IDs and Now are injected so tests can pin them.
type Normalizer struct {
	IDs IDSource
	Now func() time.Time
}

// Normalize converts one decoded wire value into a canonical message.
// Returns false only for nil input; unrecognized shapes degrade to a
// best-effort text message.
func (n *Normalizer) Normalize(v any) (model.Message, bool) {
	switch t := v.(type) {
	case nil:
		return model.Message{}, false
	case string:
		return n.fromText(t), true
	case map[string]any:
		return n.fromObject(t), true
	case model.Message:
		return t, true
	default:
		return model.Message{}, false
	}
}

func (n *Normalizer) fromText(text string) model.Message {
	return model.Message{
		ID:        n.IDs.NextLocal(),
		Kind:      model.KindText,
		Author:    model.UnknownAuthor,
		Timestamp: n.timestamp(),
		Body:      text,
	}
}

func (n *Normalizer) fromObject(m map[string]any) model.Message {
	// Current envelopes nest everything under payload; legacy frames
	// put fields directly on the object. Read the inner object when
	// present, fall back to the outer for anything missing.
	typ := str(m, "type", "eventType")
	body := m
	if p, ok := m["payload"].(map[string]any); ok {
		body = p
	}

	msg := model.Message{
		ID:        firstStr(str(body, "id", "_id", "messageId"), str(m, "id", "_id")),
		Author:    authorOf(body, m),
		Timestamp: firstStr(str(body, "timestamp", "createdAt"), str(m, "timestamp", "createdAt")),
		Body:      str(body, "message", "text", "content", "body"),
	}
	if deleted, ok := body["deleted"].(bool); ok {
		msg.Deleted = deleted
	}
	if msg.ID == "" {
		msg.ID = n.IDs.NextLocal()
	}
	if msg.Timestamp == "" {
		msg.Timestamp = n.timestamp()
	}

	// Kind resolution: payload fields outrank the type tag, because
	// legacy frames carried no tag at all.
	switch {
	case sub(body, "evoucherInfo") != nil || sub(m, "evoucherInfo") != nil:
		msg.Kind = model.KindEvoucher
		ev := sub(body, "evoucherInfo")
		if ev == nil {
			ev = sub(m, "evoucherInfo")
		}
		if msg.Body == "" {
			msg.Body = str(ev, "name", "title", "code")
		}
	case str(body, "file_url", "fileUrl") != "":
		url := str(body, "file_url", "fileUrl")
		msg.Kind = model.KindFile
		msg.Attachment = &model.Attachment{
			URL:       url,
			Name:      firstStr(str(body, "file_name", "fileName"), baseName(url)),
			MediaKind: mediaKindOf(url),
		}
	case str(body, "image") != "":
		msg.Kind = model.KindFile
		msg.Attachment = &model.Attachment{
			URL:       str(body, "image"),
			Name:      baseName(str(body, "image")),
			MediaKind: "image",
		}
	case str(body, "stickerId", "sticker") != "":
		msg.Kind = model.KindSticker
		msg.StickerRef = str(body, "stickerId", "sticker")
	default:
		msg.Kind = kindOf(typ)
	}

	if rt := sub(body, "replyTo"); rt != nil {
		msg.ReplyTarget = &model.ReplyTarget{
			ID:     str(rt, "id", "_id", "messageId"),
			Body:   str(rt, "message", "text", "body"),
			Author: authorOf(rt, nil),
		}
	}
	return msg
}

func (n *Normalizer) timestamp() string {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func kindOf(typ string) model.MessageKind {
	switch typ {
	case "sticker":
		return model.KindSticker
	case "mention":
		return model.KindMention
	case "join":
		return model.KindJoin
	case "leave":
		return model.KindLeave
	case "evoucher":
		return model.KindEvoucher
	case "restriction":
		return model.KindRestriction
	default:
		// "message", "reply" and anything unrecognized render as text.
		// An upload envelope without a file payload degrades here too,
		// so KindFile always carries an attachment.
		return model.KindText
	}
}

func authorOf(body, outer map[string]any) model.Author {
	u := sub(body, "user", "author", "sender")
	if u == nil && outer != nil {
		u = sub(outer, "user", "author", "sender")
	}
	if u == nil {
		return model.UnknownAuthor
	}
	a := model.Author{
		ID:        str(u, "_id", "id"),
		FirstName: str(u, "firstname", "firstName", "name"),
		LastName:  str(u, "lastname", "lastName"),
		Username:  str(u, "username", "handle"),
	}
	if a.ID == "" && a.Username == "" {
		return model.UnknownAuthor
	}
	if a.ID == "" {
		a.ID = a.Username
	}
	return a
}

// str returns the first non-empty string value among keys.
func str(m map[string]any, keys ...string) string {
	if m == nil {
		return ""
	}
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// sub returns the first nested object among keys.
func sub(m map[string]any, keys ...string) map[string]any {
	if m == nil {
		return nil
	}
	for _, k := range keys {
		if o, ok := m[k].(map[string]any); ok {
			return o
		}
	}
	return nil
}

func firstStr(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func baseName(url string) string {
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		return url[i+1:]
	}
	return url
}

func mediaKindOf(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".png"), strings.HasSuffix(lower, ".jpg"),
		strings.HasSuffix(lower, ".jpeg"), strings.HasSuffix(lower, ".gif"),
		strings.HasSuffix(lower, ".webp"):
		return "image"
	case strings.HasSuffix(lower, ".mp4"), strings.HasSuffix(lower, ".mov"),
		strings.HasSuffix(lower, ".webm"):
		return "video"
	default:
		return "file"
	}
}
