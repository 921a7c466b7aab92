package wire

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kritsw/chat-session/pkg/model"
)

type fixedIDs struct{ n int }

func (f *fixedIDs) NextLocal() string {
	f.n++
	return fmt.Sprintf("local-%d", f.n)
}

func newTestNormalizer() *Normalizer {
	return &Normalizer{
		IDs: &fixedIDs{},
		Now: func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestNormalizeEnvelope(t *testing.T) {
	n := newTestNormalizer()
	msg, ok := n.Normalize(map[string]any{
		"type": "message",
		"payload": map[string]any{
			"id":        "srv-1",
			"message":   "hello",
			"timestamp": "2025-06-01T11:59:00Z",
			"user": map[string]any{
				"_id":       "u1",
				"firstname": "Ada",
				"lastname":  "Lovelace",
				"username":  "ada",
			},
		},
	})
	require.True(t, ok)
	require.Equal(t, "srv-1", msg.ID)
	require.Equal(t, model.KindText, msg.Kind)
	require.Equal(t, "hello", msg.Body)
	require.Equal(t, "u1", msg.Author.ID)
	require.Equal(t, "ada", msg.Author.Username)
	require.Equal(t, "2025-06-01T11:59:00Z", msg.Timestamp)
	require.False(t, msg.Optimistic)
}

func TestNormalizeBareString(t *testing.T) {
	n := newTestNormalizer()
	msg, ok := n.Normalize("just text")
	require.True(t, ok)
	require.Equal(t, model.KindText, msg.Kind)
	require.Equal(t, "just text", msg.Body)
	require.Equal(t, "local-1", msg.ID)
	require.Equal(t, "2025-06-01T12:00:00Z", msg.Timestamp)
	require.Equal(t, model.UnknownAuthor, msg.Author)
}

func TestNormalizeLegacyFlatFile(t *testing.T) {
	n := newTestNormalizer()
	msg, ok := n.Normalize(map[string]any{
		"id":       "srv-2",
		"file_url": "https://cdn.example.com/files/report.png",
		"user":     map[string]any{"_id": "u2"},
	})
	require.True(t, ok)
	require.Equal(t, model.KindFile, msg.Kind)
	require.NotNil(t, msg.Attachment)
	require.Equal(t, "https://cdn.example.com/files/report.png", msg.Attachment.URL)
	require.Equal(t, "report.png", msg.Attachment.Name)
	require.Equal(t, "image", msg.Attachment.MediaKind)
}

func TestNormalizeLegacyImageField(t *testing.T) {
	n := newTestNormalizer()
	msg, ok := n.Normalize(map[string]any{
		"image": "https://cdn.example.com/pic.jpg",
		"user":  map[string]any{"_id": "u2"},
	})
	require.True(t, ok)
	require.Equal(t, model.KindFile, msg.Kind)
	require.Equal(t, "image", msg.Attachment.MediaKind)
}

func TestNormalizeSticker(t *testing.T) {
	n := newTestNormalizer()
	msg, ok := n.Normalize(map[string]any{
		"type": "sticker",
		"payload": map[string]any{
			"stickerId": "stk-7",
			"user":      map[string]any{"_id": "u3"},
		},
	})
	require.True(t, ok)
	require.Equal(t, model.KindSticker, msg.Kind)
	require.Equal(t, "stk-7", msg.StickerRef)
}

func TestNormalizeEvoucherNested(t *testing.T) {
	n := newTestNormalizer()
	for _, input := range []map[string]any{
		{"evoucherInfo": map[string]any{"name": "Coffee voucher"}},
		{"payload": map[string]any{"evoucherInfo": map[string]any{"name": "Coffee voucher"}}},
	} {
		msg, ok := n.Normalize(input)
		require.True(t, ok)
		require.Equal(t, model.KindEvoucher, msg.Kind)
		require.Equal(t, "Coffee voucher", msg.Body)
	}
}

func TestNormalizeUploadWithoutFile(t *testing.T) {
	n := newTestNormalizer()
	msg, ok := n.Normalize(map[string]any{
		"type": "upload",
		"payload": map[string]any{
			"message": "see attachment",
			"user":    map[string]any{"_id": "u1"},
		},
	})
	require.True(t, ok)
	// No file field means no attachment; the kind degrades to text so
	// renderers never see a file row without a URL.
	require.Equal(t, model.KindText, msg.Kind)
	require.Nil(t, msg.Attachment)
	require.Equal(t, "see attachment", msg.Body)
}

func TestNormalizeMissingAuthor(t *testing.T) {
	n := newTestNormalizer()
	msg, ok := n.Normalize(map[string]any{
		"type":    "message",
		"payload": map[string]any{"message": "who said this"},
	})
	require.True(t, ok)
	require.Equal(t, model.UnknownAuthor, msg.Author)
}

func TestNormalizeNil(t *testing.T) {
	n := newTestNormalizer()
	_, ok := n.Normalize(nil)
	require.False(t, ok)
}

func TestNormalizeReplyTarget(t *testing.T) {
	n := newTestNormalizer()
	msg, ok := n.Normalize(map[string]any{
		"type": "reply",
		"payload": map[string]any{
			"id":      "srv-9",
			"message": "agreed",
			"user":    map[string]any{"_id": "u1"},
			"replyTo": map[string]any{
				"id":      "srv-5",
				"message": "original",
				"user":    map[string]any{"_id": "u2"},
			},
		},
	})
	require.True(t, ok)
	require.NotNil(t, msg.ReplyTarget)
	require.Equal(t, "srv-5", msg.ReplyTarget.ID)
	require.Equal(t, "original", msg.ReplyTarget.Body)
	require.Equal(t, "u2", msg.ReplyTarget.Author.ID)
}

func TestNormalizeDeterministic(t *testing.T) {
	input := map[string]any{
		"type": "message",
		"payload": map[string]any{
			"id":        "srv-1",
			"message":   "hello",
			"timestamp": "2025-06-01T11:59:00Z",
			"user":      map[string]any{"_id": "u1"},
		},
	}
	a, _ := newTestNormalizer().Normalize(input)
	b, _ := newTestNormalizer().Normalize(input)
	require.Equal(t, a, b)
}
