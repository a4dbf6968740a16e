package media

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrInvalidOptions signals a missing/unknown target format or a
	// malformed option value. Detected before any engine work starts.
	ErrInvalidOptions = errors.New("invalid conversion options")
	// ErrInvalidFileReference signals a file identifier that could escape
	// the upload directory. Rejected before any path is constructed.
	ErrInvalidFileReference = errors.New("invalid file reference")
)

// Recognized target container formats.
var allowedFormats = map[string]bool{
	"mp4": true, "mkv": true, "webm": true, "mov": true, "avi": true,
	"flv": true, "gif": true,
	"mp3": true, "aac": true, "ogg": true, "wav": true, "flac": true,
}

var (
	codecPattern      = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	bitratePattern    = regexp.MustCompile(`^[0-9]+k?$`)
	resolutionPattern = regexp.MustCompile(`^([0-9]+x[0-9]+|[0-9]+x\?|\?x[0-9]+|[0-9]+%)$`)
)

// TrimOptions selects a segment of the source: start offset and duration
// in seconds.
type TrimOptions struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// ConversionOptions is the generic editing options record accepted from
// clients. Only Format is required; every absent field means "use source
// default".
type ConversionOptions struct {
	Format         string       `json:"format"`
	VideoCodec     string       `json:"videoCodec,omitempty"`
	AudioCodec     string       `json:"audioCodec,omitempty"`
	VideoBitrate   string       `json:"videoBitrate,omitempty"`
	AudioBitrate   string       `json:"audioBitrate,omitempty"`
	AudioChannels  int          `json:"audioChannels,omitempty"`
	AudioFrequency int          `json:"audioFrequency,omitempty"`
	Trim           *TrimOptions `json:"trim,omitempty"`
	Resolution     string       `json:"resolution,omitempty"`
	Framerate      float64      `json:"framerate,omitempty"`
	DisableAudio   bool         `json:"disableAudio,omitempty"`
	Deinterlace    bool         `json:"deinterlace,omitempty"`
}

// Directive is one atomic instruction to the transformation engine,
// derived from exactly one option field.
type Directive struct {
	Name string
	Args []string
}

// Plan is a fully translated conversion: the ordered directive list plus
// resolved input/output locations.
type Plan struct {
	Directives []Directive
	InputPath  string
	OutputPath string
	OutputName string
}

// EngineArgs flattens the directive list into engine argument order.
func (p *Plan) EngineArgs() []string {
	var args []string
	for _, d := range p.Directives {
		args = append(args, d.Args...)
	}
	return args
}

// ValidateFileID rejects identifiers that could traverse outside the
// upload directory. Must be called before the identifier is joined into
// any path.
func ValidateFileID(fileID string) error {
	if fileID == "" {
		return fmt.Errorf("%w: empty file id", ErrInvalidFileReference)
	}
	if strings.Contains(fileID, "..") {
		return fmt.Errorf("%w: parent directory traversal", ErrInvalidFileReference)
	}
	if strings.ContainsAny(fileID, `/\`) {
		return fmt.Errorf("%w: path separator in file id", ErrInvalidFileReference)
	}
	return nil
}

// BuildPlan translates a ConversionOptions record into an engine plan.
// Each present optional field contributes exactly one directive; the
// mandatory format directive is always first. Unknown or malformed
// values fail rather than being silently dropped.
func BuildPlan(opts ConversionOptions, fileID, uploadDir, outputDir string) (*Plan, error) {
	if err := ValidateFileID(fileID); err != nil {
		return nil, err
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		return nil, fmt.Errorf("%w: target format is required", ErrInvalidOptions)
	}
	if !allowedFormats[format] {
		return nil, fmt.Errorf("%w: unrecognized format %q", ErrInvalidOptions, opts.Format)
	}

	directives := []Directive{{Name: "format", Args: []string{"-f", format}}}

	if opts.VideoCodec != "" {
		if !codecPattern.MatchString(opts.VideoCodec) {
			return nil, fmt.Errorf("%w: malformed video codec %q", ErrInvalidOptions, opts.VideoCodec)
		}
		directives = append(directives, Directive{Name: "videoCodec", Args: []string{"-c:v", opts.VideoCodec}})
	}
	if opts.AudioCodec != "" {
		if !codecPattern.MatchString(opts.AudioCodec) {
			return nil, fmt.Errorf("%w: malformed audio codec %q", ErrInvalidOptions, opts.AudioCodec)
		}
		directives = append(directives, Directive{Name: "audioCodec", Args: []string{"-c:a", opts.AudioCodec}})
	}
	if opts.VideoBitrate != "" {
		if !bitratePattern.MatchString(opts.VideoBitrate) {
			return nil, fmt.Errorf("%w: malformed video bitrate %q", ErrInvalidOptions, opts.VideoBitrate)
		}
		directives = append(directives, Directive{Name: "videoBitrate", Args: []string{"-b:v", opts.VideoBitrate}})
	}
	if opts.Trim != nil {
		if opts.Trim.Start < 0 {
			return nil, fmt.Errorf("%w: trim start must not be negative", ErrInvalidOptions)
		}
		if opts.Trim.Duration <= 0 {
			return nil, fmt.Errorf("%w: trim duration must be a positive number", ErrInvalidOptions)
		}
		directives = append(directives, Directive{Name: "trim", Args: []string{
			"-ss", formatFloat(opts.Trim.Start),
			"-t", formatFloat(opts.Trim.Duration),
		}})
	}
	if opts.Resolution != "" {
		if !resolutionPattern.MatchString(opts.Resolution) {
			return nil, fmt.Errorf("%w: malformed resolution %q", ErrInvalidOptions, opts.Resolution)
		}
		directives = append(directives, Directive{Name: "resolution", Args: []string{"-s", opts.Resolution}})
	}
	if opts.Framerate != 0 {
		if opts.Framerate < 0 || opts.Framerate > 240 {
			return nil, fmt.Errorf("%w: frame rate out of range", ErrInvalidOptions)
		}
		directives = append(directives, Directive{Name: "framerate", Args: []string{"-r", formatFloat(opts.Framerate)}})
	}
	if opts.Deinterlace {
		directives = append(directives, Directive{Name: "deinterlace", Args: []string{"-vf", "yadif"}})
	}
	if opts.DisableAudio {
		directives = append(directives, Directive{Name: "disableAudio", Args: []string{"-an"}})
	}
	if opts.AudioChannels != 0 {
		if opts.AudioChannels < 1 || opts.AudioChannels > 8 {
			return nil, fmt.Errorf("%w: audio channels out of range", ErrInvalidOptions)
		}
		directives = append(directives, Directive{Name: "audioChannels", Args: []string{"-ac", fmt.Sprintf("%d", opts.AudioChannels)}})
	}
	if opts.AudioFrequency != 0 {
		if opts.AudioFrequency < 8000 || opts.AudioFrequency > 192000 {
			return nil, fmt.Errorf("%w: audio sample rate out of range", ErrInvalidOptions)
		}
		directives = append(directives, Directive{Name: "audioFrequency", Args: []string{"-ar", fmt.Sprintf("%d", opts.AudioFrequency)}})
	}
	if opts.AudioBitrate != "" {
		if !bitratePattern.MatchString(opts.AudioBitrate) {
			return nil, fmt.Errorf("%w: malformed audio bitrate %q", ErrInvalidOptions, opts.AudioBitrate)
		}
		directives = append(directives, Directive{Name: "audioBitrate", Args: []string{"-b:a", opts.AudioBitrate}})
	}

	base := strings.TrimSuffix(fileID, filepath.Ext(fileID))
	outputName := base + "." + format

	return &Plan{
		Directives: directives,
		InputPath:  filepath.Join(uploadDir, fileID),
		OutputPath: filepath.Join(outputDir, outputName),
		OutputName: outputName,
	}, nil
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
}
