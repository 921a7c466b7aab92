package wire

import (
	"encoding/json"

	"github.com/kritsw/chat-session/pkg/model"
)

type FrameKind int

const (
	// FrameNone means the raw bytes did not yield anything usable;
	// callers log and drop it.
	FrameNone FrameKind = iota
	FrameUnsend
	FrameMessages
	FrameTyping
)

// Frame is the classified form of one inbound socket frame.
type Frame struct {
	Kind     FrameKind
	UnsendID string
	Messages []model.Message
	// Author is the peer a typing frame refers to.
	Author model.Author
}

// Classify parses one raw frame and interprets it in fixed priority
// order: unsend signal, message envelope, history backfill, then a
// best-effort normalization of the whole frame.
func (n *Normalizer) Classify(raw []byte) Frame {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Frame{Kind: FrameNone}
	}

	obj, isObj := v.(map[string]any)
	if !isObj {
		// Bare string frames are legal legacy input.
		if msg, ok := n.Normalize(v); ok {
			return Frame{Kind: FrameMessages, Messages: []model.Message{msg}}
		}
		return Frame{Kind: FrameNone}
	}

	typ := str(obj, "eventType")
	if typ == "" {
		typ = str(obj, "type")
	}

	// 1. Unsend signal.
	if typ == "unsend" || typ == "unsend_message" {
		id := str(obj, "messageId", "id")
		if p := sub(obj, "payload"); p != nil {
			id = firstStr(str(p, "messageId", "id"), id)
		}
		if id == "" {
			return Frame{Kind: FrameNone}
		}
		return Frame{Kind: FrameUnsend, UnsendID: id}
	}

	// 2. Typing relay: ephemeral, never enters the message list.
	if typ == "typing" {
		return Frame{Kind: FrameTyping, Author: authorOf(sub(obj, "payload"), obj)}
	}

	// 3. Message envelope.
	switch str(obj, "type") {
	case "message", "sticker", "reply", "mention", "upload":
		if msg, ok := n.Normalize(obj); ok {
			return Frame{Kind: FrameMessages, Messages: []model.Message{msg}}
		}
		return Frame{Kind: FrameNone}
	}

	// 4. History backfill: payload is a single item or an array, each
	// normalized on its own.
	if str(obj, "eventType") == "history" {
		var out []model.Message
		switch p := obj["payload"].(type) {
		case []any:
			for _, item := range p {
				if msg, ok := n.Normalize(item); ok {
					out = append(out, msg)
				}
			}
		default:
			if msg, ok := n.Normalize(p); ok {
				out = append(out, msg)
			}
		}
		if len(out) == 0 {
			return Frame{Kind: FrameNone}
		}
		return Frame{Kind: FrameMessages, Messages: out}
	}

	// 5. Fallback: treat the whole frame as a message, but drop it
	// when normalization produced an empty husk.
	if msg, ok := n.Normalize(obj); ok && usable(msg) {
		return Frame{Kind: FrameMessages, Messages: []model.Message{msg}}
	}
	return Frame{Kind: FrameNone}
}

func usable(msg model.Message) bool {
	return msg.Body != "" || msg.Attachment != nil || msg.StickerRef != "" || msg.Kind != model.KindText
}
