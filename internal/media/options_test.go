package media

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildPlanFormatOnly(t *testing.T) {
	plan, err := BuildPlan(ConversionOptions{Format: "mp4"}, "video-abc.mov", "up", "out")
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	if len(plan.Directives) != 1 {
		t.Fatalf("expected only the format directive, got %d: %+v", len(plan.Directives), plan.Directives)
	}
	if plan.Directives[0].Name != "format" {
		t.Errorf("first directive must be format, got %q", plan.Directives[0].Name)
	}
	if plan.OutputName != "video-abc.mp4" {
		t.Errorf("unexpected output name %q", plan.OutputName)
	}
	if plan.InputPath != filepath.Join("up", "video-abc.mov") {
		t.Errorf("unexpected input path %q", plan.InputPath)
	}
	if plan.OutputPath != filepath.Join("out", "video-abc.mp4") {
		t.Errorf("unexpected output path %q", plan.OutputPath)
	}
}

func TestBuildPlanOneDirectivePerPresentField(t *testing.T) {
	opts := ConversionOptions{
		Format:         "mkv",
		VideoCodec:     "libx264",
		AudioCodec:     "aac",
		VideoBitrate:   "1000k",
		AudioBitrate:   "128k",
		AudioChannels:  2,
		AudioFrequency: 44100,
		Trim:           &TrimOptions{Start: 1.5, Duration: 10},
		Resolution:     "1280x720",
		Framerate:      30,
		DisableAudio:   true,
		Deinterlace:    true,
	}
	plan, err := BuildPlan(opts, "video-abc.mov", "up", "out")
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	// format + 11 present optional fields
	if len(plan.Directives) != 12 {
		t.Fatalf("expected 12 directives, got %d: %+v", len(plan.Directives), plan.Directives)
	}
	seen := map[string]int{}
	for _, d := range plan.Directives {
		seen[d.Name]++
	}
	for name, n := range seen {
		if n != 1 {
			t.Errorf("directive %q emitted %d times", name, n)
		}
	}
	args := strings.Join(plan.EngineArgs(), " ")
	for _, want := range []string{"-f mkv", "-c:v libx264", "-ss 1.5", "-t 10", "-s 1280x720", "-an", "-vf yadif", "-ar 44100"} {
		if !strings.Contains(args, want) {
			t.Errorf("engine args missing %q: %s", want, args)
		}
	}
}

func TestBuildPlanRejectsMalformedOptions(t *testing.T) {
	cases := []struct {
		name string
		opts ConversionOptions
	}{
		{"missing format", ConversionOptions{}},
		{"unknown format", ConversionOptions{Format: "exe"}},
		{"format injection", ConversionOptions{Format: "mp4; rm -rf /"}},
		{"bad video codec", ConversionOptions{Format: "mp4", VideoCodec: "libx264 -evil"}},
		{"bad bitrate", ConversionOptions{Format: "mp4", VideoBitrate: "fast"}},
		{"bad resolution", ConversionOptions{Format: "mp4", Resolution: "wide"}},
		{"negative framerate", ConversionOptions{Format: "mp4", Framerate: -24}},
		{"zero trim duration", ConversionOptions{Format: "mp4", Trim: &TrimOptions{Start: 0, Duration: 0}}},
		{"negative trim start", ConversionOptions{Format: "mp4", Trim: &TrimOptions{Start: -1, Duration: 5}}},
		{"audio channels out of range", ConversionOptions{Format: "mp4", AudioChannels: 99}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildPlan(tc.opts, "video-abc.mov", "up", "out")
			if !errors.Is(err, ErrInvalidOptions) {
				t.Fatalf("expected ErrInvalidOptions, got %v", err)
			}
		})
	}
}

func TestBuildPlanRejectsTraversalFileIDs(t *testing.T) {
	for _, fileID := range []string{
		"../etc/passwd",
		"..",
		"a/../../b.mp4",
		"sub/video.mp4",
		`sub\video.mp4`,
		"",
	} {
		_, err := BuildPlan(ConversionOptions{Format: "mp4"}, fileID, "up", "out")
		if !errors.Is(err, ErrInvalidFileReference) {
			t.Errorf("fileID %q: expected ErrInvalidFileReference, got %v", fileID, err)
		}
	}
}
