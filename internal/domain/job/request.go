package job

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"vidforge/internal/pkg/errors"
)

// Defaults applied to absent request fields.
const (
	DefaultAudioVolume = 1.0
	DefaultFont        = "Arial"
	DefaultColor       = "#FFFFFF"
	DefaultPosition    = 50.0
	DefaultAnimation   = "none"
	DefaultFormat      = "mp4"
	DefaultResolution  = "1920x1080"
)

var resolutionRe = regexp.MustCompile(`^\d{2,5}x\d{2,5}$`)

// VideoSource is one input clip.
type VideoSource struct {
	URL       string  `json:"url"`
	StartTime float64 `json:"startTime,omitempty"`
	EndTime   float64 `json:"endTime,omitempty"`
}

// AudioSource is one audio track mixed into the output.
type AudioSource struct {
	URL    string   `json:"url"`
	Volume *float64 `json:"volume,omitempty"`
	Loop   bool     `json:"loop,omitempty"`
}

// TextOverlay is a timed text element composited onto the video.
type TextOverlay struct {
	Text      string   `json:"text"`
	Font      string   `json:"font,omitempty"`
	Color     string   `json:"color,omitempty"`
	PositionX *float64 `json:"positionX,omitempty"`
	PositionY *float64 `json:"positionY,omitempty"`
	StartTime float64  `json:"startTime,omitempty"`
	EndTime   float64  `json:"endTime,omitempty"`
	Animation string   `json:"animation,omitempty"`
}

// OutputSettings control the rendered artifact.
type OutputSettings struct {
	Format     string `json:"format,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// RenderRequest is the immutable set of generation parameters captured at
// submission time. An empty VideoURLs list is legal.
type RenderRequest struct {
	VideoURLs         []VideoSource  `json:"videoUrls"`
	AudioURLs         []AudioSource  `json:"audioUrls,omitempty"`
	TextOverlays      []TextOverlay  `json:"textOverlays,omitempty"`
	TemplateStructure map[string]any `json:"templateStructure,omitempty"`
	OutputSettings    OutputSettings `json:"outputSettings,omitempty"`
	WebhookURL        string         `json:"webhookUrl,omitempty"`
}

// Normalize fills absent fields with their documented defaults.
func (r *RenderRequest) Normalize() {
	for i := range r.AudioURLs {
		if r.AudioURLs[i].Volume == nil {
			v := DefaultAudioVolume
			r.AudioURLs[i].Volume = &v
		}
	}
	for i := range r.TextOverlays {
		o := &r.TextOverlays[i]
		if strings.TrimSpace(o.Font) == "" {
			o.Font = DefaultFont
		}
		if strings.TrimSpace(o.Color) == "" {
			o.Color = DefaultColor
		}
		if o.PositionX == nil {
			p := DefaultPosition
			o.PositionX = &p
		}
		if o.PositionY == nil {
			p := DefaultPosition
			o.PositionY = &p
		}
		if strings.TrimSpace(o.Animation) == "" {
			o.Animation = DefaultAnimation
		}
	}
	if strings.TrimSpace(r.OutputSettings.Format) == "" {
		r.OutputSettings.Format = DefaultFormat
	}
	if strings.TrimSpace(r.OutputSettings.Resolution) == "" {
		r.OutputSettings.Resolution = DefaultResolution
	}
}

// Validate checks the request and returns a field-tagged validation error on
// the first violation. Call Normalize first so defaults are in place.
func (r *RenderRequest) Validate() error {
	for i, v := range r.VideoURLs {
		field := "videoUrls[" + strconv.Itoa(i) + "]"
		if err := validateAbsoluteURL(field+".url", v.URL); err != nil {
			return err
		}
		if v.StartTime < 0 {
			return errors.ValidationField(field+".startTime", "must not be negative")
		}
		if v.EndTime < 0 {
			return errors.ValidationField(field+".endTime", "must not be negative")
		}
		if v.EndTime > 0 && v.EndTime < v.StartTime {
			return errors.ValidationField(field+".endTime", "must not precede startTime")
		}
	}
	for i, a := range r.AudioURLs {
		field := "audioUrls[" + strconv.Itoa(i) + "]"
		if err := validateAbsoluteURL(field+".url", a.URL); err != nil {
			return err
		}
		if a.Volume != nil && *a.Volume < 0 {
			return errors.ValidationField(field+".volume", "must not be negative")
		}
	}
	for i, o := range r.TextOverlays {
		field := "textOverlays[" + strconv.Itoa(i) + "]"
		if strings.TrimSpace(o.Text) == "" {
			return errors.ValidationField(field+".text", "text is required")
		}
		if o.StartTime < 0 {
			return errors.ValidationField(field+".startTime", "must not be negative")
		}
		if o.EndTime < 0 {
			return errors.ValidationField(field+".endTime", "must not be negative")
		}
	}
	if !resolutionRe.MatchString(r.OutputSettings.Resolution) {
		return errors.ValidationField("outputSettings.resolution", "must look like WIDTHxHEIGHT")
	}
	if r.WebhookURL != "" {
		if err := validateAbsoluteURL("webhookUrl", r.WebhookURL); err != nil {
			return err
		}
	}
	return nil
}

// HasWebhook reports whether a completion notification should be delivered.
func (r *RenderRequest) HasWebhook() bool {
	return strings.TrimSpace(r.WebhookURL) != ""
}

func validateAbsoluteURL(field, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.ValidationField(field, "url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.ValidationField(field, "must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.ValidationField(field, "scheme must be http or https")
	}
	return nil
}
