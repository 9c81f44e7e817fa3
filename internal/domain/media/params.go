package media

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// ParseLanguage validates an optional language hint and returns its ISO 639-1
// code when one exists. Empty and "auto" mean auto-detection.
func ParseLanguage(hint string) (string, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" || strings.EqualFold(hint, "auto") {
		return "", nil
	}
	tag, err := language.Parse(hint)
	if err != nil {
		return "", invalid("media.language", fmt.Sprintf("language %q is not a valid language code", hint), ErrInvalidParameter, err)
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", invalid("media.language", fmt.Sprintf("language %q is not a valid language code", hint), ErrInvalidParameter, nil)
	}
	return base.String(), nil
}

// ParseOptionalBool parses a form boolean. An empty value returns nil so the
// caller can apply its default.
func ParseOptionalBool(name, value string) (*bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return nil, nil
	case "1", "true", "t", "yes", "y", "on":
		v := true
		return &v, nil
	case "0", "false", "f", "no", "n", "off":
		v := false
		return &v, nil
	default:
		return nil, invalid("media.param", fmt.Sprintf("%s must be a boolean, got %q", name, value), ErrInvalidParameter, nil)
	}
}

// RequireFileName rejects an upload without a usable file name.
func RequireFileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("media.upload", "file is required", ErrMissingParameter, nil)
	}
	return nil
}
