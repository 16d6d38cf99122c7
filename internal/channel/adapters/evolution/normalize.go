// Package evolution normalizes Evolution API webhook payloads.
package evolution

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/replyflow/replyflow/internal/channel"
)

// Provider is the registry key for the Evolution normalizer.
const Provider = "evolution"

// Normalizer maps Evolution API webhook payloads onto canonical events.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer creates an Evolution normalizer.
func NewNormalizer(log *slog.Logger) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{logger: log.With(slog.String("normalizer", Provider))}
}

// Provider returns the provider key.
func (n *Normalizer) Provider() string { return Provider }

// --- wire format ---

type payload struct {
	Event    string    `json:"event"`
	Instance string    `json:"instance"`
	Data     eventData `json:"data"`
}

type eventData struct {
	Key struct {
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName         string      `json:"pushName"`
	MessageTimestamp int64       `json:"messageTimestamp"`
	Message          messageBody `json:"message"`
}

type messageBody struct {
	Conversation        string       `json:"conversation"`
	ExtendedTextMessage *extText     `json:"extendedTextMessage"`
	AudioMessage        *mediaMsg    `json:"audioMessage"`
	ImageMessage        *mediaMsg    `json:"imageMessage"`
	DocumentMessage     *docMsg      `json:"documentMessage"`
	ButtonsResponse     *buttonsResp `json:"buttonsResponseMessage"`
	ListResponse        *listResp    `json:"listResponseMessage"`
	StickerMessage      *mediaMsg    `json:"stickerMessage"`
	VideoMessage        *mediaMsg  `json:"videoMessage"`
}

type extText struct {
	Text string `json:"text"`
}

type mediaMsg struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype"`
	Caption  string `json:"caption"`
}

type docMsg struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype"`
	FileName string `json:"fileName"`
	Caption  string `json:"caption"`
}

type buttonsResp struct {
	SelectedDisplayText string `json:"selectedDisplayText"`
}

type listResp struct {
	Title string `json:"title"`
}

// Normalize parses one Evolution webhook body. Only messages.upsert
// events carry messages; everything else (connection.update,
// messages.update, qrcode.updated, presence) is a no-op.
func (n *Normalizer) Normalize(raw []byte) channel.Result {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		n.logger.Warn("malformed payload", slog.Any("error", err))
		return channel.Ignore("malformed json")
	}
	if p.Event != "messages.upsert" {
		return channel.Ignore(fmt.Sprintf("event %q is not a message", p.Event))
	}
	if p.Data.Key.ID == "" {
		return channel.Ignore("missing message key id")
	}

	ev := channel.InboundEvent{
		ConnectionExternalID: p.Instance,
		ExternalMessageID:    p.Data.Key.ID,
		SenderPhone:          phoneFromJid(p.Data.Key.RemoteJid),
		SenderDisplayName:    p.Data.PushName,
		FromAgent:            p.Data.Key.FromMe,
		OccurredAt:           parseTimestamp(p.Data.MessageTimestamp),
	}
	if ev.SenderPhone == "" {
		return channel.Ignore("missing remote jid")
	}

	fillContent(&ev, p.Data.Message)
	return channel.Result{Events: []channel.InboundEvent{ev}}
}

func fillContent(ev *channel.InboundEvent, msg messageBody) {
	switch {
	case msg.Conversation != "":
		ev.Kind = channel.KindText
		ev.Text = msg.Conversation
	case msg.ExtendedTextMessage != nil:
		ev.Kind = channel.KindText
		ev.Text = msg.ExtendedTextMessage.Text
	case msg.AudioMessage != nil:
		ev.Kind = channel.KindAudio
		ev.MediaRef = msg.AudioMessage.URL
		ev.MediaMIME = msg.AudioMessage.Mimetype
		ev.Text = "[voice message]"
	case msg.ImageMessage != nil:
		ev.Kind = channel.KindImage
		ev.MediaRef = msg.ImageMessage.URL
		ev.MediaMIME = msg.ImageMessage.Mimetype
		ev.Text = msg.ImageMessage.Caption
		if ev.Text == "" {
			ev.Text = "[image]"
		}
	case msg.DocumentMessage != nil:
		ev.Kind = channel.KindDocument
		ev.MediaRef = msg.DocumentMessage.URL
		ev.MediaMIME = msg.DocumentMessage.Mimetype
		ev.Text = strings.TrimSpace(msg.DocumentMessage.Caption)
		if ev.Text == "" {
			ev.Text = fmt.Sprintf("[document: %s]", msg.DocumentMessage.FileName)
		}
	case msg.ButtonsResponse != nil:
		ev.Kind = channel.KindInteractive
		ev.Text = msg.ButtonsResponse.SelectedDisplayText
		if ev.Text == "" {
			ev.Text = "[button reply]"
		}
	case msg.ListResponse != nil:
		ev.Kind = channel.KindInteractive
		ev.Text = msg.ListResponse.Title
		if ev.Text == "" {
			ev.Text = "[list reply]"
		}
	case msg.StickerMessage != nil:
		ev.Kind = channel.KindText
		ev.Text = "[unsupported message type: sticker]"
	case msg.VideoMessage != nil:
		ev.Kind = channel.KindText
		ev.Text = "[unsupported message type: video]"
	default:
		ev.Kind = channel.KindText
		ev.Text = "[unsupported message type]"
	}
}

// phoneFromJid strips the WhatsApp JID suffix ("5511999@s.whatsapp.net").
func phoneFromJid(jid string) string {
	jid = strings.TrimSpace(jid)
	if idx := strings.IndexByte(jid, '@'); idx >= 0 {
		jid = jid[:idx]
	}
	return jid
}

func parseTimestamp(secs int64) time.Time {
	if secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
