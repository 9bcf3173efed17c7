package canonical

import (
	"net/url"
	"regexp"
	"strings"
)

// Step rewrites a URL string. Steps must be deterministic.
type Step func(string) string

// HostRule binds a sequence of steps to the origin hosts it applies to.
// A host matches when it equals an entry or is a subdomain of it.
type HostRule struct {
	Name  string
	Hosts []string
	Steps []Step
}

func (r HostRule) matches(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, h := range r.Hosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// StripQuery removes everything from the first '?' to the end of the string.
func StripQuery() Step {
	return func(s string) string {
		if i := strings.IndexByte(s, '?'); i >= 0 {
			return s[:i]
		}
		return s
	}
}

// SetQuery replaces the query string (and fragment) with raw.
func SetQuery(raw string) Step {
	strip := StripQuery()
	return func(s string) string {
		return strip(s) + "?" + raw
	}
}

// StripParams drops the named query parameters, keeping the order and encoding
// of the rest. An emptied query loses its '?'.
func StripParams(names ...string) Step {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	return func(s string) string {
		q := strings.IndexByte(s, '?')
		if q < 0 {
			return s
		}
		base, rest := s[:q], s[q+1:]
		fragment := ""
		if h := strings.IndexByte(rest, '#'); h >= 0 {
			rest, fragment = rest[:h], rest[h:]
		}
		kept := make([]string, 0, 4)
		for _, pair := range strings.Split(rest, "&") {
			if pair == "" {
				continue
			}
			key := pair
			if eq := strings.IndexByte(pair, '='); eq >= 0 {
				key = pair[:eq]
			}
			if _, ok := drop[key]; ok {
				continue
			}
			kept = append(kept, pair)
		}
		if len(kept) == 0 {
			return base + fragment
		}
		return base + "?" + strings.Join(kept, "&") + fragment
	}
}

// ReplaceHost swaps the host when it matches from exactly.
func ReplaceHost(from, to string) Step {
	return func(s string) string {
		u, err := url.Parse(s)
		if err != nil || !strings.EqualFold(u.Host, from) {
			return s
		}
		u.Host = to
		return u.String()
	}
}

// ReplacePattern replaces every match of pattern with repl ($1 expansion allowed).
func ReplacePattern(pattern, repl string) Step {
	re := regexp.MustCompile(pattern)
	return func(s string) string {
		return re.ReplaceAllString(s, repl)
	}
}

// When applies step only to strings containing substr.
func When(substr string, step Step) Step {
	return func(s string) string {
		if !strings.Contains(s, substr) {
			return s
		}
		return step(s)
	}
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#039;", "'",
)

// DecodeEntities unescapes the HTML entities page scrapers leave in attribute values.
func DecodeEntities() Step {
	return entityReplacer.Replace
}

// DefaultRules returns the built-in host rule table.
func DefaultRules() []HostRule {
	return []HostRule{
		{
			Name:  "twitter",
			Hosts: []string{"twitter.com", "x.com"},
			Steps: []Step{SetQuery("format=jpg&name=orig")},
		},
		{
			Name:  "instagram",
			Hosts: []string{"instagram.com"},
			Steps: []Step{
				ReplacePattern(`/s\d+x\d+/`, "/"),
				ReplacePattern(`/c\d+\.\d+\.\d+\.\d+/`, "/"),
			},
		},
		{
			Name:  "reddit",
			Hosts: []string{"reddit.com"},
			Steps: []Step{
				DecodeEntities(),
				ReplaceHost("external-preview.redd.it", "i.redd.it"),
				ReplaceHost("preview.redd.it", "i.redd.it"),
				StripParams("width", "height", "crop", "format", "auto", "s"),
				// imgur ids are 7 characters; one trailing size letter marks a thumbnail.
				When("imgur.com", ReplacePattern(
					`/([a-zA-Z0-9]{7})[bsthlm]\.((?i:jpg|jpeg|png|gif|webp))$`, "/$1.$2",
				)),
			},
		},
	}
}

// FallbackSteps are applied when no host rule matches.
func FallbackSteps() []Step {
	return []Step{
		StripQuery(),
		ReplacePattern(`_thumb|_small|_medium`, "_large"),
		ReplacePattern(`/thumb/`, "/original/"),
	}
}
