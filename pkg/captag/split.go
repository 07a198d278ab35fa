package captag

import (
	"strings"
	"unicode/utf8"
)

// SplitTags splits a delimited tag string into segments of at most max characters,
// breaking on delimiter boundaries. Tokens longer than max are cut into max-sized chunks.
func SplitTags(text string, delim string, max int) []string {
	return splitTags(text, delim, max, utf8.RuneCountInString)
}

// SplitTagsBytes is SplitTags with max counted in UTF-8 bytes. Chunks never split a character.
func SplitTagsBytes(text string, delim string, max int) []string {
	return splitTags(text, delim, max, func(s string) int { return len(s) })
}

func splitTags(text string, delim string, max int, width func(string) int) []string {
	tokens := []string{}
	for _, t := range strings.Split(text, delim) {
		t = strings.TrimSpace(t)
		if t != "" {
			tokens = append(tokens, t)
		}
	}

	if max <= 0 {
		return tokens
	}

	segs := []string{}
	cur := ""
	dl := width(delim)

	for _, t := range tokens {
		tl := width(t)
		if tl > max {
			if cur != "" {
				segs = append(segs, cur)
				cur = ""
			}
			segs = append(segs, chunk(t, max, width)...)
			continue
		}

		if cur == "" {
			cur = t
			continue
		}

		if width(cur)+dl+tl <= max {
			cur = cur + delim + t
			continue
		}

		segs = append(segs, cur)
		cur = t
	}

	if cur != "" {
		segs = append(segs, cur)
	}
	return segs
}

// chunk cuts s into consecutive pieces no wider than n; the last may be shorter.
func chunk(s string, n int, width func(string) int) []string {
	out := []string{}
	cur := ""
	for _, r := range s {
		if cur != "" && width(cur+string(r)) > n {
			out = append(out, cur)
			cur = ""
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// truncate returns at most n runes of s.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}

// truncateBytes returns the longest prefix of s that fits in n bytes without splitting a character.
func truncateBytes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return strings.TrimSpace(s[:cut])
}
