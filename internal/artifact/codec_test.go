package artifact

import (
	"reflect"
	"strings"
	"testing"
)

func TestSignatureMarkerRoundTrip(t *testing.T) {
	text := "Here is the answer." + SignatureMarker("https://cdn.example/signatures/sig_1.txt") + "And more."

	sigURL, stripped, ok := ExtractSignatureURL(text)
	if !ok {
		t.Fatal("expected a marker to be found")
	}
	if sigURL != "https://cdn.example/signatures/sig_1.txt" {
		t.Errorf("url = %q", sigURL)
	}
	if strings.Contains(stripped, "SIG_URL") {
		t.Errorf("marker not removed: %q", stripped)
	}
	if !strings.Contains(stripped, "Here is the answer.") || !strings.Contains(stripped, "And more.") {
		t.Errorf("surrounding text lost: %q", stripped)
	}
}

func TestExtractSignatureURLRejectsMalformed(t *testing.T) {
	cases := []string{
		"no marker at all",
		"<!-- SIG_URL: not-a-url -->",
		"<!-- SIG_URL: ftp://cdn.example/x -->",
		"<!--SIG_URL: https://cdn.example/x-->", // missing spaces
	}
	for _, text := range cases {
		if _, stripped, ok := ExtractSignatureURL(text); ok {
			t.Errorf("%q: unexpectedly extracted a URL", text)
		} else if stripped != text {
			t.Errorf("%q: text was modified to %q", text, stripped)
		}
	}
}

func TestExtractSignatureURLFirstOnly(t *testing.T) {
	text := SignatureMarker("https://cdn.example/a") + SignatureMarker("https://cdn.example/b")
	sigURL, stripped, ok := ExtractSignatureURL(text)
	if !ok || sigURL != "https://cdn.example/a" {
		t.Fatalf("url = %q, ok = %v", sigURL, ok)
	}
	if !strings.Contains(stripped, "https://cdn.example/b") {
		t.Errorf("second marker should be left in place: %q", stripped)
	}
}

func TestExtractImageURLs(t *testing.T) {
	text := "intro\n" +
		ImageMarkdown("https://cdn.example/images/1.png") +
		"middle ![alt text](https://cdn.example/images/2.png) tail\n" +
		"![broken](not a url)\n"

	got := ExtractImageURLs(text)
	want := []string{
		"https://cdn.example/images/1.png",
		"https://cdn.example/images/2.png",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("urls = %v, want %v", got, want)
	}
}

func TestExtractImageURLsNone(t *testing.T) {
	if got := ExtractImageURLs("plain text, [a link](https://example.com) but no image"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
