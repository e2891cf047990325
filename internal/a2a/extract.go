// ABOUTME: Ordered text extractors for message/send results
// ABOUTME: Tries artifacts, then message parts, then a direct text field

package a2a

import (
	"strings"
)

// partSeparator joins text from multiple parts or artifacts.
const partSeparator = "\n\n"

// extractor pulls human-readable text from one result shape.
// ok is false when the shape is absent, so the next extractor is tried.
type extractor struct {
	name    string
	extract func(r *Result) (text string, ok bool)
}

// extractors are tried in priority order; the first shape present wins.
var extractors = []extractor{
	{name: "artifacts", extract: fromArtifacts},
	{name: "message", extract: fromMessage},
	{name: "text", extract: fromText},
}

// ExtractText returns the reply text of a result, or ok=false when no known
// shape carried any text.
func ExtractText(r *Result) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, ex := range extractors {
		text, present := ex.extract(r)
		if !present {
			continue
		}
		// The first present shape decides, even when it holds no text parts.
		return text, text != ""
	}
	return "", false
}

func fromArtifacts(r *Result) (string, bool) {
	if r.Artifacts == nil {
		return "", false
	}
	var texts []string
	for _, artifact := range r.Artifacts {
		if text := joinTextParts(artifact.Parts); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, partSeparator), true
}

func fromMessage(r *Result) (string, bool) {
	if r.Message == nil || r.Message.Parts == nil {
		return "", false
	}
	return joinTextParts(r.Message.Parts), true
}

func fromText(r *Result) (string, bool) {
	if r.Text == nil {
		return "", false
	}
	return *r.Text, true
}

// joinTextParts concatenates every text-kind part.
func joinTextParts(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if p.Kind == PartKindText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, partSeparator)
}

// truncateMarker is appended when a reply exceeds the configured cap.
const truncateMarker = "...\n\n[message truncated]"

// Truncate caps s at maxChars runes, appending a marker when it cuts.
// maxChars <= 0 disables the cap.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + truncateMarker
}
