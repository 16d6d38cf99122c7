package media

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/replyflow/replyflow/internal/channel"
)

type fakeFetcher struct {
	data       []byte
	err        error
	resolved   string
	resolveErr error
}

func (f *fakeFetcher) Fetch(_ context.Context, _, _ string) ([]byte, error) {
	return f.data, f.err
}

func (f *fakeFetcher) ResolveURL(_ context.Context, ref, _ string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	if f.resolved != "" {
		return f.resolved, nil
	}
	return ref, nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	return f.text, f.err
}

type fakeDescriber struct {
	text   string
	err    error
	gotURL string
}

func (f *fakeDescriber) DescribeImage(_ context.Context, imageURL, _ string) (string, error) {
	f.gotURL = imageURL
	return f.text, f.err
}

func audioEvent() channel.InboundEvent {
	return channel.InboundEvent{
		Kind:              channel.KindAudio,
		MediaRef:          "https://cdn.example/a.ogg",
		MediaMIME:         "audio/ogg",
		Text:              "[voice message]",
		ExternalMessageID: "m1",
	}
}

func TestResolveAudioTranscribes(t *testing.T) {
	r := NewResolver(nil, &fakeFetcher{data: []byte("bytes")}, &fakeTranscriber{text: "call me tomorrow"}, nil)
	got := r.Resolve(context.Background(), audioEvent(), "")
	assert.Equal(t, "[voice message] call me tomorrow", got)
}

func TestResolveAudioFetchFailureYieldsPlaceholder(t *testing.T) {
	r := NewResolver(nil, &fakeFetcher{err: errors.New("cdn down")}, &fakeTranscriber{text: "unused"}, nil)
	got := r.Resolve(context.Background(), audioEvent(), "")
	assert.Equal(t, audioPlaceholder, got)
}

func TestResolveAudioTranscriptionFailureYieldsPlaceholder(t *testing.T) {
	r := NewResolver(nil, &fakeFetcher{data: []byte("bytes")}, &fakeTranscriber{err: errors.New("model down")}, nil)
	got := r.Resolve(context.Background(), audioEvent(), "")
	assert.Equal(t, audioPlaceholder, got)
}

func TestResolveImageConcatenatesCaptionAndDescription(t *testing.T) {
	r := NewResolver(nil, &fakeFetcher{}, nil, &fakeDescriber{text: "a red storefront"})
	got := r.Resolve(context.Background(), channel.InboundEvent{
		Kind:     channel.KindImage,
		MediaRef: "https://cdn.example/i.jpg",
		Text:     "our new shop",
	}, "")
	assert.Equal(t, "our new shop\n[image description] a red storefront", got)
}

func TestResolveImageResolvesMediaIDToURL(t *testing.T) {
	describer := &fakeDescriber{text: "a handwritten order form"}
	r := NewResolver(nil, &fakeFetcher{resolved: "https://lookaside.example/i.jpg"}, nil, describer)
	got := r.Resolve(context.Background(), channel.InboundEvent{
		Kind:     channel.KindImage,
		MediaRef: "914583297164",
		Text:     "[image]",
	}, "tok-1")
	assert.Equal(t, "[image description] a handwritten order form", got)
	assert.Equal(t, "https://lookaside.example/i.jpg", describer.gotURL)
}

func TestResolveImageURLResolutionFailureKeepsCaption(t *testing.T) {
	r := NewResolver(nil, &fakeFetcher{resolveErr: errors.New("graph down")}, nil, &fakeDescriber{text: "unused"})
	got := r.Resolve(context.Background(), channel.InboundEvent{
		Kind:     channel.KindImage,
		MediaRef: "914583297164",
		Text:     "our new shop",
	}, "tok-1")
	assert.Equal(t, "our new shop", got)
}

func TestResolveImageFailureKeepsCaption(t *testing.T) {
	r := NewResolver(nil, &fakeFetcher{}, nil, &fakeDescriber{err: errors.New("vision down")})
	got := r.Resolve(context.Background(), channel.InboundEvent{
		Kind:     channel.KindImage,
		MediaRef: "https://cdn.example/i.jpg",
		Text:     "our new shop",
	}, "")
	assert.Equal(t, "our new shop", got)
}

func TestResolveImageFailureWithoutCaptionYieldsPlaceholder(t *testing.T) {
	r := NewResolver(nil, &fakeFetcher{}, nil, &fakeDescriber{err: errors.New("vision down")})
	got := r.Resolve(context.Background(), channel.InboundEvent{
		Kind:     channel.KindImage,
		MediaRef: "https://cdn.example/i.jpg",
		Text:     "[image]",
	}, "")
	assert.Equal(t, imagePlaceholder, got)
}

func TestResolveTextPassesThrough(t *testing.T) {
	r := NewResolver(nil, &fakeFetcher{}, nil, nil)
	got := r.Resolve(context.Background(), channel.InboundEvent{Kind: channel.KindText, Text: "plain"}, "")
	assert.Equal(t, "plain", got)
}
