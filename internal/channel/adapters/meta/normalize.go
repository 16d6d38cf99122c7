// Package meta normalizes WhatsApp Cloud API webhook payloads.
package meta

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/replyflow/replyflow/internal/channel"
)

// Provider is the registry key for the Cloud API normalizer.
const Provider = "meta"

// Normalizer maps Cloud API webhook payloads onto canonical events.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer creates a Cloud API normalizer.
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
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string      `json:"field"`
	Value changeValue `json:"value"`
}

type changeValue struct {
	Metadata struct {
		PhoneNumberID      string `json:"phone_number_id"`
		DisplayPhoneNumber string `json:"display_phone_number"`
	} `json:"metadata"`
	Contacts []contact         `json:"contacts"`
	Messages []inboundMessage  `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

type contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type inboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Audio    *mediaPart `json:"audio"`
	Image    *mediaPart `json:"image"`
	Document *struct {
		mediaPart
		Filename string `json:"filename"`
	} `json:"document"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *reply `json:"button_reply"`
		ListReply   *reply `json:"list_reply"`
	} `json:"interactive"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
}

type mediaPart struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

type reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Normalize parses one Cloud API webhook body. Status-only payloads and
// non-message fields come back as ignored results; malformed JSON never
// produces an error so the endpoint can acknowledge upstream.
func (n *Normalizer) Normalize(raw []byte) channel.Result {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		n.logger.Warn("malformed payload", slog.Any("error", err))
		return channel.Ignore("malformed json")
	}
	if p.Object != "whatsapp_business_account" {
		return channel.Ignore(fmt.Sprintf("unexpected object %q", p.Object))
	}

	var events []channel.InboundEvent
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			if ch.Field != "messages" {
				continue
			}
			names := contactNames(ch.Value.Contacts)
			for _, msg := range ch.Value.Messages {
				events = append(events, n.toEvent(msg, ch.Value.Metadata.PhoneNumberID, names))
			}
		}
	}
	if len(events) == 0 {
		return channel.Ignore("no inbound messages")
	}
	return channel.Result{Events: events}
}

func (n *Normalizer) toEvent(msg inboundMessage, phoneNumberID string, names map[string]string) channel.InboundEvent {
	ev := channel.InboundEvent{
		ConnectionExternalID: phoneNumberID,
		ExternalMessageID:    msg.ID,
		SenderPhone:          msg.From,
		SenderDisplayName:    names[msg.From],
		OccurredAt:           parseUnixSeconds(msg.Timestamp),
	}

	switch msg.Type {
	case "text":
		ev.Kind = channel.KindText
		if msg.Text != nil {
			ev.Text = msg.Text.Body
		}
	case "audio":
		ev.Kind = channel.KindAudio
		if msg.Audio != nil {
			ev.MediaRef = msg.Audio.ID
			ev.MediaMIME = msg.Audio.MimeType
		}
		ev.Text = "[voice message]"
	case "image":
		ev.Kind = channel.KindImage
		if msg.Image != nil {
			ev.MediaRef = msg.Image.ID
			ev.MediaMIME = msg.Image.MimeType
			ev.Text = msg.Image.Caption
		}
		if ev.Text == "" {
			ev.Text = "[image]"
		}
	case "document":
		ev.Kind = channel.KindDocument
		if msg.Document != nil {
			ev.MediaRef = msg.Document.ID
			ev.MediaMIME = msg.Document.MimeType
			ev.Text = strings.TrimSpace(msg.Document.Caption)
			if ev.Text == "" {
				ev.Text = fmt.Sprintf("[document: %s]", msg.Document.Filename)
			}
		} else {
			ev.Text = "[document]"
		}
	case "interactive":
		ev.Kind = channel.KindInteractive
		if msg.Interactive != nil {
			switch {
			case msg.Interactive.ButtonReply != nil:
				ev.Text = msg.Interactive.ButtonReply.Title
			case msg.Interactive.ListReply != nil:
				ev.Text = msg.Interactive.ListReply.Title
			}
		}
		if ev.Text == "" {
			ev.Text = "[interactive reply]"
		}
	case "button":
		ev.Kind = channel.KindInteractive
		if msg.Button != nil {
			ev.Text = msg.Button.Text
		}
		if ev.Text == "" {
			ev.Text = "[button reply]"
		}
	default:
		// Stickers, video, location and future kinds degrade to a
		// descriptive text placeholder instead of being dropped.
		ev.Kind = channel.KindText
		ev.Text = fmt.Sprintf("[unsupported message type: %s]", msg.Type)
	}
	return ev
}

func contactNames(contacts []contact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.WaID != "" && c.Profile.Name != "" {
			names[c.WaID] = c.Profile.Name
		}
	}
	return names
}

func parseUnixSeconds(ts string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
