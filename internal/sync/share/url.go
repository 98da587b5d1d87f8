package share

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/mschirtzinger/flowsync/internal/sync/schema"
)

// URLConfig describes where shared links point.
type URLConfig struct {
	Origin string
	Locale string
	App    string
}

// BuildURL returns <origin>/<locale>/<app>?share=<code>&type=<kind>.
func BuildURL(cfg URLConfig, code string, kind schema.Kind) (string, error) {
	u, err := url.Parse(strings.TrimRight(cfg.Origin, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: bad origin %q", ErrInvalidURL, cfg.Origin)
	}
	u.Path = path.Join("/", u.Path, cfg.Locale, cfg.App)

	q := url.Values{}
	q.Set("share", code)
	q.Set("type", string(kind))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseURL extracts and validates the code and kind from a share link.
func ParseURL(raw string) (code string, kind schema.Kind, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	q := u.Query()
	code = q.Get("share")
	if !ValidCode(code) {
		return "", "", fmt.Errorf("%w: share parameter %q", ErrInvalidURL, code)
	}
	kind, err = schema.ParseKind(q.Get("type"))
	if err != nil {
		return "", "", fmt.Errorf("%w: type parameter %q", ErrInvalidURL, q.Get("type"))
	}
	return code, kind, nil
}
