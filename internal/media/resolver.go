// Package media resolves voice and image attachments into text.
// Resolution is best-effort: any fetch, transcription, or vision failure
// yields a placeholder string so message persistence never blocks on a
// dependency being down.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/replyflow/replyflow/internal/channel"
)

const (
	fetchTimeout  = 30 * time.Second
	maxMediaBytes = 25 << 20 // 25 MiB

	audioPlaceholder = "[voice message — transcription unavailable]"
	imagePlaceholder = "[image received]"
)

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Describer produces a textual description of an image.
type Describer interface {
	DescribeImage(ctx context.Context, imageURL, caption string) (string, error)
}

// Fetcher downloads provider media by reference. A reference is either a
// direct URL or a provider media id that the fetcher resolves first.
type Fetcher interface {
	Fetch(ctx context.Context, ref, accessToken string) ([]byte, error)
	// ResolveURL turns a provider media id into a downloadable URL;
	// refs that are already URLs pass through unchanged.
	ResolveURL(ctx context.Context, ref, accessToken string) (string, error)
}

// Resolver turns audio/image events into text content.
type Resolver struct {
	fetcher     Fetcher
	transcriber Transcriber
	describer   Describer
	logger      *slog.Logger
}

// NewResolver creates a media resolver.
func NewResolver(log *slog.Logger, fetcher Fetcher, transcriber Transcriber, describer Describer) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if fetcher == nil {
		fetcher = NewHTTPFetcher(log)
	}
	return &Resolver{
		fetcher:     fetcher,
		transcriber: transcriber,
		describer:   describer,
		logger:      log.With(slog.String("service", "media")),
	}
}

// Resolve returns the text content for an inbound event. Text-like kinds
// pass through untouched; audio and image kinds are resolved against the
// generation service. Never returns an error.
func (r *Resolver) Resolve(ctx context.Context, ev channel.InboundEvent, accessToken string) string {
	switch ev.Kind {
	case channel.KindAudio:
		return r.resolveAudio(ctx, ev, accessToken)
	case channel.KindImage:
		return r.resolveImage(ctx, ev, accessToken)
	default:
		return ev.Text
	}
}

func (r *Resolver) resolveAudio(ctx context.Context, ev channel.InboundEvent, accessToken string) string {
	if ev.MediaRef == "" || r.transcriber == nil {
		return audioPlaceholder
	}
	audio, err := r.fetcher.Fetch(ctx, ev.MediaRef, accessToken)
	if err != nil {
		r.logger.Warn("audio fetch failed", slog.String("external_id", ev.ExternalMessageID), slog.Any("error", err))
		return audioPlaceholder
	}
	transcript, err := r.transcriber.Transcribe(ctx, audio, filenameFor(ev.MediaMIME))
	if err != nil {
		r.logger.Warn("transcription failed", slog.String("external_id", ev.ExternalMessageID), slog.Any("error", err))
		return audioPlaceholder
	}
	if strings.TrimSpace(transcript) == "" {
		return audioPlaceholder
	}
	return "[voice message] " + transcript
}

func (r *Resolver) resolveImage(ctx context.Context, ev channel.InboundEvent, accessToken string) string {
	caption := strings.TrimSpace(ev.Text)
	if caption == imagePlaceholder || caption == "[image]" {
		caption = ""
	}
	if ev.MediaRef == "" || r.describer == nil {
		return fallbackImageText(caption)
	}
	// Meta sends a Graph media id, not a URL; the vision endpoint can
	// only fetch a real URL.
	imageURL, err := r.fetcher.ResolveURL(ctx, ev.MediaRef, accessToken)
	if err != nil {
		r.logger.Warn("image url resolution failed", slog.String("external_id", ev.ExternalMessageID), slog.Any("error", err))
		return fallbackImageText(caption)
	}
	description, err := r.describer.DescribeImage(ctx, imageURL, caption)
	if err != nil {
		r.logger.Warn("vision call failed", slog.String("external_id", ev.ExternalMessageID), slog.Any("error", err))
		return fallbackImageText(caption)
	}
	if strings.TrimSpace(description) == "" {
		return fallbackImageText(caption)
	}
	if caption != "" {
		return fmt.Sprintf("%s\n[image description] %s", caption, description)
	}
	return "[image description] " + description
}

func fallbackImageText(caption string) string {
	if caption != "" {
		return caption
	}
	return imagePlaceholder
}

func filenameFor(mime string) string {
	switch {
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return "audio.mp3"
	case strings.Contains(mime, "wav"):
		return "audio.wav"
	default:
		return "audio.ogg"
	}
}

// HTTPFetcher downloads media over plain HTTP with a bounded timeout.
// Provider media ids (non-URL refs) are resolved through the WhatsApp
// Graph media endpoint using the connection's access token.
type HTTPFetcher struct {
	client       *http.Client
	graphBaseURL string
	logger       *slog.Logger
}

// NewHTTPFetcher creates the default media fetcher.
func NewHTTPFetcher(log *slog.Logger) *HTTPFetcher {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPFetcher{
		client:       &http.Client{Timeout: fetchTimeout},
		graphBaseURL: "https://graph.facebook.com/v19.0",
		logger:       log.With(slog.String("component", "media_fetcher")),
	}
}

// Fetch downloads the media bytes for a reference.
func (f *HTTPFetcher) Fetch(ctx context.Context, ref, accessToken string) ([]byte, error) {
	url, err := f.ResolveURL(ctx, ref, accessToken)
	if err != nil {
		return nil, err
	}
	return f.download(ctx, url, accessToken)
}

// ResolveURL passes URLs through and looks up media ids via the Graph
// media endpoint.
func (f *HTTPFetcher) ResolveURL(ctx context.Context, ref, accessToken string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	return f.resolveMediaURL(ctx, ref, accessToken)
}

func (f *HTTPFetcher) resolveMediaURL(ctx context.Context, mediaID, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.graphBaseURL+"/"+mediaID, nil)
	if err != nil {
		return "", err
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve media id: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve media id status %d", resp.StatusCode)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode media lookup: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("media lookup returned no url")
	}
	return out.URL, nil
}

func (f *HTTPFetcher) download(ctx context.Context, url, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download media status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	if int64(len(data)) > maxMediaBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", int64(maxMediaBytes))
	}
	return data, nil
}
