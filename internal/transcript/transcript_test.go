package transcript

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"testing"

	"github.com/heimdex/heimdex-storyboard/internal/timeline"
)

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		hint    string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"auto", "", false},
		{" AUTO ", "", false},
		{"ja", "ja", false},
		{"ja-jp", "ja-JP", false},
		{"en_US", "en-US", false},
		{"not a language!", "", true},
	}
	for _, tt := range tests {
		got, err := ParseLanguage(tt.hint)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLanguage(%q) error = %v, wantErr %v", tt.hint, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLanguage(%q) = %q, want %q", tt.hint, got, tt.want)
		}
	}
}

func TestBaseLanguage(t *testing.T) {
	if got := BaseLanguage("ja-JP"); got != "ja" {
		t.Errorf("BaseLanguage(ja-JP) = %q", got)
	}
	if got := BaseLanguage(""); got != "" {
		t.Errorf("BaseLanguage(\"\") = %q", got)
	}
}

func TestNormalize(t *testing.T) {
	in := []timeline.Segment{
		{Start: 5, End: 6, Text: "  second "},
		{Start: 3, End: 1, Text: "reversed"},
		{Start: -1, End: 0.5, Text: "negative"},
		{Start: 7, End: 8, Text: "   "},
		{Start: math.NaN(), End: 8, Text: "nan"},
		{Start: 5, End: 5.5, Text: "é"},
	}
	got := Normalize(in)
	want := []timeline.Segment{
		{Start: 0, End: 0.5, Text: "negative"},
		{Start: 1, End: 3, Text: "reversed"},
		{Start: 5, End: 6, Text: "second"},
		{Start: 5, End: 5.5, Text: "é"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Normalize() = %#v, want %#v", got, want)
	}
}

type fakeBackend struct {
	segments []timeline.Segment
	err      error
	gotLang  string
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Transcribe(ctx context.Context, video timeline.Video, language string) ([]timeline.Segment, error) {
	f.gotLang = language
	return f.segments, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdapter_WrapsErrors(t *testing.T) {
	a := NewAdapter(&fakeBackend{err: errors.New("CUDA out of memory")}, testLogger())
	_, err := a.Transcribe(context.Background(), timeline.Video{ID: "v"}, "")
	if !errors.Is(err, timeline.ErrTranscriptionError) {
		t.Fatalf("Transcribe() error = %v, want ErrTranscriptionError", err)
	}
}

func TestAdapter_InvalidHintFallsBackToAuto(t *testing.T) {
	backend := &fakeBackend{}
	a := NewAdapter(backend, testLogger())
	if _, err := a.Transcribe(context.Background(), timeline.Video{}, "??"); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if backend.gotLang != "" {
		t.Errorf("backend language = %q, want auto", backend.gotLang)
	}
}

func TestAdapter_EmptyIsNotAnError(t *testing.T) {
	a := NewAdapter(None{}, testLogger())
	segs, err := a.Transcribe(context.Background(), timeline.Video{}, "en")
	if err != nil || len(segs) != 0 {
		t.Fatalf("Transcribe() = %v, %v, want empty, nil", segs, err)
	}
}

func TestAdapter_Normalizes(t *testing.T) {
	a := NewAdapter(&fakeBackend{segments: []timeline.Segment{
		{Start: 4, End: 5, Text: "b"},
		{Start: 1, End: 2, Text: "a"},
	}}, testLogger())
	segs, err := a.Transcribe(context.Background(), timeline.Video{}, "ja")
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 2 || segs[0].Text != "a" {
		t.Fatalf("segments = %v, want sorted", segs)
	}
}
