// Package filename derives save names for fetched media.
package filename

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	defaultExt     = ".jpg"
	titlePrefixLen = 20
)

var (
	mediaExt     = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp|bmp|svg|ico)$`)
	illegalChars = strings.NewReplacer(
		"<", "_", ">", "_", ":", "_", `"`, "_",
		"/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
	)
	nonAlnum = regexp.MustCompile(`(?i)[^a-z0-9]`)
)

// Derive builds a filename for rawURL. An empty path segment falls back to
// "<host>_<timestamp>.jpg"; names without a known media extension get ".jpg";
// filesystem-illegal characters are replaced; a non-empty title contributes a
// prefix of at most 20 characters.
func Derive(rawURL, title string, now time.Time) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Sprintf("image_%d%s", now.UnixMilli(), defaultExt)
	}

	name := lastSegment(u.EscapedPath())
	if name == "" {
		host := nonAlnum.ReplaceAllString(u.Hostname(), "_")
		stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
		name = fmt.Sprintf("%s_%s%s", host, stamp, defaultExt)
	}
	if !mediaExt.MatchString(name) {
		name += defaultExt
	}
	return withTitle(Sanitize(name), title)
}

// Override sanitizes a caller-supplied name, still honoring the title prefix.
func Override(name, title string) string {
	return withTitle(Sanitize(name), title)
}

// Sanitize replaces characters that are illegal in common filesystems.
func Sanitize(name string) string {
	return illegalChars.Replace(name)
}

func withTitle(name, title string) string {
	if title == "" {
		return name
	}
	runes := []rune(title)
	if len(runes) > titlePrefixLen {
		runes = runes[:titlePrefixLen]
	}
	return Sanitize(string(runes)) + "_" + name
}

// lastSegment splits an escaped path before decoding, so an encoded slash
// stays inside the name.
func lastSegment(escaped string) string {
	if i := strings.LastIndexByte(escaped, '/'); i >= 0 {
		escaped = escaped[i+1:]
	}
	name, err := url.PathUnescape(escaped)
	if err != nil {
		return escaped
	}
	return name
}
