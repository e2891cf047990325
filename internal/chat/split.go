// ABOUTME: Splits long replies into chunks that fit a transport's message limit
// ABOUTME: Counts characters (runes), so multi-byte text is never cut mid-character

package chat

// SplitMessage cuts text into consecutive chunks of at most limit runes.
// Empty text yields no chunks; limit <= 0 yields text unchanged.
func SplitMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	chunks := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
