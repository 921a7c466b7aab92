package model

type MessageKind string

const (
	KindText        MessageKind = "text"
	KindJoin        MessageKind = "join"
	KindLeave       MessageKind = "leave"
	KindFile        MessageKind = "file"
	KindSticker     MessageKind = "sticker"
	KindMention     MessageKind = "mention"
	KindEvoucher    MessageKind = "evoucher"
	KindRestriction MessageKind = "restriction"
)

// Author identifies who produced a message. Fields mirror the user
// object the server attaches to wire frames.
type Author struct {
	ID        string `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Username  string `json:"username"`
}

// UnknownAuthor is used when a frame carries no usable user object.
var UnknownAuthor = Author{ID: "unknown", FirstName: "Unknown", Username: "unknown"}

func (a Author) DisplayName() string {
	switch {
	case a.FirstName != "" && a.LastName != "":
		return a.FirstName + " " + a.LastName
	case a.FirstName != "":
		return a.FirstName
	case a.Username != "":
		return a.Username
	default:
		return a.ID
	}
}

type Attachment struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	MediaKind string `json:"mediaKind"`
}

type ReplyTarget struct {
	ID     string `json:"id"`
	Body   string `json:"body"`
	Author Author `json:"author"`
}

// Message is the canonical chat item every wire shape normalizes into.
// ID is the server id, or a "local-" prefixed placeholder until the
// confirmed counterpart arrives. Deleted messages stay in the list as
// tombstones for the remainder of the session.
type Message struct {
	ID          string       `json:"id"`
	Kind        MessageKind  `json:"kind"`
	Author      Author       `json:"author"`
	Timestamp   string       `json:"timestamp"`
	Body        string       `json:"body,omitempty"`
	Attachment  *Attachment  `json:"attachment,omitempty"`
	StickerRef  string       `json:"stickerRef,omitempty"`
	ReplyTarget *ReplyTarget `json:"replyTarget,omitempty"`
	Optimistic  bool         `json:"optimistic"`
	Deleted     bool         `json:"deleted"`
}

// Envelope is the {type, payload} wrapping convention for wire frames.
type Envelope struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// WrapText wraps plain text the way the server expects outbound
// messages: {"type":"message","payload":{"message":<text>}}.
func WrapText(text string) Envelope {
	return Envelope{Type: "message", Payload: map[string]any{"message": text}}
}
