package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// basicTokenize normalizes text and splits it on whitespace and punctuation.
func (t *Tokenizer) basicTokenize(text string) []string {
	text = cleanText(text)
	if t.opts.HandleCJK {
		text = padCJK(text)
	}

	var words []string
	for _, word := range strings.Fields(text) {
		if t.opts.Lowercase {
			word = strings.ToLower(word)
		}
		if t.opts.StripAccents {
			word = stripAccents(word)
		}
		words = append(words, splitPunctuation(word)...)
	}
	return words
}

// wordPiece applies greedy longest-match-first subword segmentation to one word.
func (t *Tokenizer) wordPiece(word string) []string {
	if utf8.RuneCountInString(word) > t.opts.MaxCharsPerWord {
		return []string{t.opts.UnknownToken}
	}

	var pieces []string
	for start := 0; start < len(word); {
		end := len(word)
		found := ""
		for end > start {
			candidate := word[start:end]
			if start > 0 {
				candidate = t.opts.SubwordPrefix + candidate
			}
			if _, ok := t.vocab[candidate]; ok {
				found = candidate
				break
			}
			// Step back one rune, never into the middle of one.
			_, size := utf8.DecodeLastRuneInString(word[start:end])
			end -= size
		}
		if found == "" {
			return []string{t.opts.UnknownToken}
		}
		pieces = append(pieces, found)
		start = end
	}
	return pieces
}

// cleanText drops invalid and control characters and maps all whitespace to a plain space.
func cleanText(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0 || r == utf8.RuneError || isControl(r):
			continue
		case isWhitespace(r):
			sb.WriteByte(' ')
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// padCJK surrounds CJK ideographs with spaces so each becomes its own word.
func padCJK(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if isCJK(r) {
			sb.WriteByte(' ')
			sb.WriteRune(r)
			sb.WriteByte(' ')
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// stripAccents removes combining marks after canonical decomposition.
func stripAccents(word string) string {
	var sb strings.Builder
	sb.Grow(len(word))
	for _, r := range norm.NFD.String(word) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// splitPunctuation makes every punctuation character a word of its own.
func splitPunctuation(word string) []string {
	var (
		words   []string
		current strings.Builder
	)
	for _, r := range word {
		if isPunctuation(r) {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
			words = append(words, string(r))
			continue
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return words
}

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf)
}

// isPunctuation treats all non-alphanumeric ASCII as punctuation, as BERT does, in addition to
// the Unicode punctuation categories.
func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
