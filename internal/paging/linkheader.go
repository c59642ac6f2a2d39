package paging

import (
	"net/url"
	"strings"
)

// Link is one entry of an RFC 5988 Link header.
type Link struct {
	URL  string
	Rels []string
}

// ParseLinkHeader parses every Link header value into its entries. Entries
// that are not of the form `<url>; param...` are skipped.
func ParseLinkHeader(values []string) []Link {
	var links []Link
	for _, value := range values {
		for _, entry := range splitOutside(value, ',') {
			link, ok := parseLinkEntry(entry)
			if ok {
				links = append(links, link)
			}
		}
	}
	return links
}

func parseLinkEntry(entry string) (Link, bool) {
	entry = strings.TrimSpace(entry)
	if !strings.HasPrefix(entry, "<") {
		return Link{}, false
	}
	end := strings.IndexByte(entry, '>')
	if end < 0 {
		return Link{}, false
	}

	link := Link{URL: strings.TrimSpace(entry[1:end])}
	for _, param := range splitOutside(entry[end+1:], ';') {
		key, value, found := strings.Cut(strings.TrimSpace(param), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(key), "rel") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		link.Rels = append(link.Rels, strings.Fields(strings.ToLower(value))...)
	}
	return link, link.URL != ""
}

// splitOutside splits s on sep, ignoring separators inside <...> or quotes.
func splitOutside(s string, sep byte) []string {
	var parts []string
	var inAngle, inQuote bool
	start := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"' && !inAngle:
			inQuote = !inQuote
		case c == '<' && !inQuote:
			inAngle = true
		case c == '>' && !inQuote:
			inAngle = false
		case c == sep && !inAngle && !inQuote:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// relURL returns the URL of the first link carrying one of rels, resolved
// against base when it is relative.
func relURL(links []Link, base string, rels ...string) string {
	for _, link := range links {
		for _, r := range link.Rels {
			for _, want := range rels {
				if strings.EqualFold(r, want) {
					return resolve(base, link.URL)
				}
			}
		}
	}
	return ""
}

func resolve(base, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if refURL.IsAbs() || base == "" {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
