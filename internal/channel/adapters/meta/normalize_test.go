package meta

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow/replyflow/internal/channel"
)

func wrapChange(messages string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"metadata": {"phone_number_id": "1555001", "display_phone_number": "15550001111"},
					"contacts": [{"wa_id": "5511988887777", "profile": {"name": "Alice"}}],
					"messages": [%s]
				}
			}]
		}]
	}`, messages))
}

func TestNormalizeTextMessage(t *testing.T) {
	n := NewNormalizer(nil)
	res := n.Normalize(wrapChange(`{
		"from": "5511988887777",
		"id": "wamid.AAA",
		"timestamp": "1700000000",
		"type": "text",
		"text": {"body": "hello there"}
	}`))

	require.False(t, res.Ignored)
	require.Len(t, res.Events, 1)
	ev := res.Events[0]
	assert.Equal(t, channel.KindText, ev.Kind)
	assert.Equal(t, "hello there", ev.Text)
	assert.Equal(t, "wamid.AAA", ev.ExternalMessageID)
	assert.Equal(t, "5511988887777", ev.SenderPhone)
	assert.Equal(t, "Alice", ev.SenderDisplayName)
	assert.Equal(t, "1555001", ev.ConnectionExternalID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ev.OccurredAt)
	assert.False(t, ev.FromAgent)
}

func TestNormalizeContentKinds(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		kind     channel.ContentKind
		text     string
		mediaRef string
	}{
		{
			name:     "audio",
			message:  `{"from":"1","id":"m1","type":"audio","audio":{"id":"media-9","mime_type":"audio/ogg"}}`,
			kind:     channel.KindAudio,
			text:     "[voice message]",
			mediaRef: "media-9",
		},
		{
			name:     "image with caption",
			message:  `{"from":"1","id":"m2","type":"image","image":{"id":"media-10","mime_type":"image/jpeg","caption":"our storefront"}}`,
			kind:     channel.KindImage,
			text:     "our storefront",
			mediaRef: "media-10",
		},
		{
			name:    "image without caption",
			message: `{"from":"1","id":"m3","type":"image","image":{"id":"media-11"}}`,
			kind:    channel.KindImage,
			text:    "[image]",
		},
		{
			name:     "document",
			message:  `{"from":"1","id":"m4","type":"document","document":{"id":"media-12","filename":"price-list.pdf"}}`,
			kind:     channel.KindDocument,
			text:     "[document: price-list.pdf]",
			mediaRef: "media-12",
		},
		{
			name:    "button reply",
			message: `{"from":"1","id":"m5","type":"interactive","interactive":{"type":"button_reply","button_reply":{"id":"b1","title":"Yes please"}}}`,
			kind:    channel.KindInteractive,
			text:    "Yes please",
		},
		{
			name:    "list reply",
			message: `{"from":"1","id":"m6","type":"interactive","interactive":{"type":"list_reply","list_reply":{"id":"l1","title":"Plan B"}}}`,
			kind:    channel.KindInteractive,
			text:    "Plan B",
		},
		{
			name:    "sticker degrades to placeholder",
			message: `{"from":"1","id":"m7","type":"sticker"}`,
			kind:    channel.KindText,
			text:    "[unsupported message type: sticker]",
		},
	}

	n := NewNormalizer(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := n.Normalize(wrapChange(tt.message))
			require.False(t, res.Ignored)
			require.Len(t, res.Events, 1)
			ev := res.Events[0]
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, tt.text, ev.Text)
			assert.NotEmpty(t, ev.Text, "every event must carry non-empty text")
			if tt.mediaRef != "" {
				assert.Equal(t, tt.mediaRef, ev.MediaRef)
			}
		})
	}
}

func TestNormalizeStatusOnlyPayloadIgnored(t *testing.T) {
	n := NewNormalizer(nil)
	res := n.Normalize([]byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"field": "messages", "value": {"statuses": [{"id": "wamid.X", "status": "delivered"}]}}]}]
	}`))
	assert.True(t, res.Ignored)
	assert.Empty(t, res.Events)
}

func TestNormalizeMalformedPayloadIgnored(t *testing.T) {
	n := NewNormalizer(nil)
	res := n.Normalize([]byte(`{"object": "whatsapp_business_account", "entry": not-json`))
	assert.True(t, res.Ignored)
	assert.Empty(t, res.Events)
}

func TestNormalizeWrongObjectIgnored(t *testing.T) {
	n := NewNormalizer(nil)
	res := n.Normalize([]byte(`{"object": "instagram", "entry": []}`))
	assert.True(t, res.Ignored)
}
