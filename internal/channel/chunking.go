package channel

import "strings"

// SplitText splits text into chunks of at most maxLen bytes, preferring
// line boundaries. Template previews with many topics can exceed the
// platform's message limit; each chunk is sent as its own message with
// the keyboard attached to the last one. maxLen <= 0 disables splitting.
func SplitText(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	lines := strings.Split(text, "\n")
	var chunks []string
	var current strings.Builder

	for _, line := range lines {
		lineWithNewline := line + "\n"

		if current.Len()+len(lineWithNewline) > maxLen {
			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
				current.Reset()
			}
			// A single line over the limit is force-split.
			if len(lineWithNewline) > maxLen {
				chunks = append(chunks, forceSplit(line, maxLen)...)
				continue
			}
		}
		current.WriteString(lineWithNewline)
	}

	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
	}
	return chunks
}

// forceSplit cuts a single oversized line into maxLen-sized pieces at
// rune boundaries.
func forceSplit(line string, maxLen int) []string {
	var chunks []string
	var current strings.Builder
	for _, r := range line {
		if current.Len()+len(string(r)) > maxLen {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
