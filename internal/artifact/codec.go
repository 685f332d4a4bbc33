package artifact

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// The side-channel grammar. Signatures travel as an HTML comment that stays
// invisible in rendered history; images travel as ordinary markdown links.
// Both must survive a round trip through any caller that stores history as
// plain text, so the grammar is fixed and parsing is strict.
var (
	sigMarkerRe = regexp.MustCompile(`<!-- SIG_URL: (https?://[^ ]+) -->`)
	imageLinkRe = regexp.MustCompile(`!\[[^\]]*\]\((https?://[^)]+)\)`)
)

// SignatureMarker renders the invisible marker carrying a signature URL.
func SignatureMarker(u string) string {
	return fmt.Sprintf("\n<!-- SIG_URL: %s -->\n", u)
}

// ImageMarkdown renders the visible markdown link carrying an image URL.
func ImageMarkdown(u string) string {
	return fmt.Sprintf("\n![Image](%s)\n", u)
}

// ExtractSignatureURL finds the first signature marker in text. It returns
// the embedded URL, the text with the marker removed, and whether a valid
// marker was found. Markers whose URL does not parse are left untouched so a
// coincidental match in caller-authored text is never destroyed.
func ExtractSignatureURL(text string) (sigURL, stripped string, ok bool) {
	m := sigMarkerRe.FindStringSubmatch(text)
	if m == nil {
		return "", text, false
	}
	if _, err := url.ParseRequestURI(m[1]); err != nil {
		return "", text, false
	}
	return m[1], strings.Replace(text, m[0], "", 1), true
}

// ExtractImageURLs returns every valid image link URL in text, in order.
func ExtractImageURLs(text string) []string {
	var urls []string
	for _, m := range imageLinkRe.FindAllStringSubmatch(text, -1) {
		if _, err := url.ParseRequestURI(m[1]); err != nil {
			continue
		}
		urls = append(urls, m[1])
	}
	return urls
}
