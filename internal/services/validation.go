package services

import (
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"reelflow-backend/internal/models"
)

var (
	languageRegex = regexp.MustCompile(`^[a-z_-]{2,32}$`)
	voiceRegex    = regexp.MustCompile(`^[A-Za-z0-9._:-]{0,64}$`)

	validate = newValidator()
)

const (
	ResizePortrait  = "9:16"
	ResizeLandscape = "16:9"

	maxTitleLen = 255
)

// fieldMessages holds the message returned for each rejected edit config field.
var fieldMessages = map[string]string{
	"resize_mode":            "Resize mode must be 9:16 or 16:9",
	"subtitle.color":         "Color must be a hex value like #FFFFFF",
	"subtitle.bg_color":      "Background color must be a hex value like #000000",
	"subtitle.position":      "Position must be top, middle or bottom",
	"subtitle.font_size":     "Font size must be between 0 and 200",
	"subtitle.position_x":    "Must be between 0 and 100",
	"subtitle.position_y":    "Must be between 0 and 100",
	"subtitle.width_percent": "Must be between 0 and 100",
	"logo.file_key":          "Logo file key is required",
	"logo.position_x":        "Must be between 0 and 100",
	"logo.position_y":        "Must be between 0 and 100",
	"logo.scale":             "Scale cannot be negative",
	"bg_music.file_key":      "Background music file key is required",
	"language":               "Invalid language code",
	"voice_code":             "Invalid voice code",
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterValidation("lang_code", func(fl validator.FieldLevel) bool {
		return languageRegex.MatchString(fl.Field().String())
	})
	v.RegisterValidation("voice_code", func(fl validator.FieldLevel) bool {
		return voiceRegex.MatchString(fl.Field().String())
	})
	return v
}

// validateEditConfig checks the structure of an edit configuration. It does
// not touch the store, so a rejected config never causes a mutation.
func validateEditConfig(cfg models.EditConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &ValidationError{Fields: map[string]string{"config": err.Error()}}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		key := fieldKey(fe.Namespace())
		msg, ok := fieldMessages[key]
		if !ok {
			msg = "Invalid value"
		}
		fields[key] = msg
	}
	return &ValidationError{Fields: fields}
}

// fieldKey turns "EditConfig.EditingMeta.logo.AssetRef.file_key" into
// "logo.file_key": the root type and embedded struct names are dropped.
func fieldKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	keep := parts[:0]
	for i, p := range parts {
		if i == 0 || p == "" || (p[0] >= 'A' && p[0] <= 'Z') {
			continue
		}
		keep = append(keep, p)
	}
	return strings.Join(keep, ".")
}

func validateURLs(urls []string) error {
	if len(urls) == 0 {
		return &ValidationError{Fields: map[string]string{"urls": "At least one url is required"}}
	}
	for _, raw := range urls {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Fields: map[string]string{"urls": "Invalid url: " + raw}}
		}
	}
	return nil
}

func validateTitle(title string) error {
	t := strings.TrimSpace(title)
	if t == "" {
		return &ValidationError{Fields: map[string]string{"title": "Title is required"}}
	}
	if len(t) > maxTitleLen {
		return &ValidationError{Fields: map[string]string{"title": "Title is too long"}}
	}
	return nil
}
