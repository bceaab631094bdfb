// Package tokenizer - BERT WordPiece tokenization for text-conditioned models.
//
// Grounding DINO encodes its text query with an uncased BERT tokenizer. This package reproduces
// that tokenizer (basic normalization, punctuation splitting and greedy longest-match WordPiece)
// from the vocabulary shipped alongside the model, and decodes selected token ids back into the
// phrase labels attached to detections.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoVocab is returned when no usable vocabulary could be found.
var ErrNoVocab = errors.New("tokenizer vocabulary not found")

// Default special tokens and limits of bert-base-uncased.
const (
	DefaultUnknownToken      = "[UNK]"
	DefaultClassifierToken   = "[CLS]"
	DefaultSeparatorToken    = "[SEP]"
	DefaultPaddingToken      = "[PAD]"
	DefaultSubwordPrefix     = "##"
	DefaultMaxInputCharsWord = 100
	DefaultMaxSequenceLength = 256
)

// Encoding is the model-ready form of one text.
type Encoding struct {
	// Tokens are the wordpieces including [CLS] and [SEP].
	Tokens []string
	// IDs are the vocabulary ids of Tokens.
	IDs []int64
	// TypeIDs are the segment ids; always 0 for a single sequence.
	TypeIDs []int64
	// AttentionMask marks real tokens with 1.
	AttentionMask []int64
}

// Len returns the number of tokens in the encoding.
func (e Encoding) Len() int {
	return len(e.IDs)
}

// Options controls normalization and special tokens.
type Options struct {
	Lowercase       bool
	StripAccents    bool
	HandleCJK       bool
	UnknownToken    string
	ClassifierToken string
	SeparatorToken  string
	PaddingToken    string
	SubwordPrefix   string
	MaxCharsPerWord int
	MaxLength       int
}

// DefaultOptions returns the options of an uncased BERT tokenizer.
func DefaultOptions() Options {
	return Options{
		Lowercase:       true,
		StripAccents:    true,
		HandleCJK:       true,
		UnknownToken:    DefaultUnknownToken,
		ClassifierToken: DefaultClassifierToken,
		SeparatorToken:  DefaultSeparatorToken,
		PaddingToken:    DefaultPaddingToken,
		SubwordPrefix:   DefaultSubwordPrefix,
		MaxCharsPerWord: DefaultMaxInputCharsWord,
		MaxLength:       DefaultMaxSequenceLength,
	}
}

// Tokenizer is an immutable WordPiece tokenizer; it is safe for concurrent use.
type Tokenizer struct {
	opts    Options
	vocab   map[string]int64
	inverse map[int64]string
	special map[string]struct{}
	unkID   int64
	clsID   int64
	sepID   int64
}

// New builds a tokenizer from a token → id vocabulary.
//
// Arguments:
//   - vocab: The WordPiece vocabulary.
//   - opts: Normalization options and special tokens.
//
// Returns:
//   - *Tokenizer: The tokenizer.
//   - error: An error if the vocabulary is empty or lacks a special token.
func New(vocab map[string]int64, opts Options) (*Tokenizer, error) {
	if len(vocab) == 0 {
		return nil, ErrNoVocab
	}
	if opts.SubwordPrefix == "" {
		opts.SubwordPrefix = DefaultSubwordPrefix
	}
	if opts.MaxCharsPerWord <= 0 {
		opts.MaxCharsPerWord = DefaultMaxInputCharsWord
	}
	if opts.MaxLength <= 2 {
		opts.MaxLength = DefaultMaxSequenceLength
	}

	t := &Tokenizer{
		opts:    opts,
		vocab:   vocab,
		inverse: make(map[int64]string, len(vocab)),
		special: make(map[string]struct{}),
	}
	for token, id := range vocab {
		t.inverse[id] = token
	}

	for _, sp := range []struct {
		token string
		id    *int64
	}{
		{opts.UnknownToken, &t.unkID},
		{opts.ClassifierToken, &t.clsID},
		{opts.SeparatorToken, &t.sepID},
	} {
		id, ok := vocab[sp.token]
		if !ok {
			return nil, fmt.Errorf("special token %q missing from vocabulary", sp.token)
		}
		*sp.id = id
		t.special[sp.token] = struct{}{}
	}
	if opts.PaddingToken != "" {
		t.special[opts.PaddingToken] = struct{}{}
	}

	return t, nil
}

// Options returns the options the tokenizer was built with.
func (t *Tokenizer) Options() Options {
	return t.opts
}

// VocabSize returns the number of entries in the vocabulary.
func (t *Tokenizer) VocabSize() int {
	return len(t.vocab)
}

// TokenID returns the id of token and whether it is in the vocabulary.
func (t *Tokenizer) TokenID(token string) (int64, bool) {
	id, ok := t.vocab[token]
	return id, ok
}

// Token returns the token for id, or the unknown token when id is not in the vocabulary.
func (t *Tokenizer) Token(id int64) string {
	if token, ok := t.inverse[id]; ok {
		return token
	}
	return t.opts.UnknownToken
}

// Tokenize splits text into wordpieces without adding special tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	var pieces []string
	for _, word := range t.basicTokenize(text) {
		pieces = append(pieces, t.wordPiece(word)...)
	}
	return pieces
}

// Encode tokenizes text into a single [CLS] … [SEP] sequence, truncated to MaxLength.
func (t *Tokenizer) Encode(text string) Encoding {
	pieces := t.Tokenize(text)
	if limit := t.opts.MaxLength - 2; len(pieces) > limit {
		pieces = pieces[:limit]
	}

	tokens := make([]string, 0, len(pieces)+2)
	tokens = append(tokens, t.opts.ClassifierToken)
	tokens = append(tokens, pieces...)
	tokens = append(tokens, t.opts.SeparatorToken)

	enc := Encoding{
		Tokens:        tokens,
		IDs:           make([]int64, len(tokens)),
		TypeIDs:       make([]int64, len(tokens)),
		AttentionMask: make([]int64, len(tokens)),
	}
	for i, token := range tokens {
		id, ok := t.vocab[token]
		if !ok {
			id = t.unkID
		}
		enc.IDs[i] = id
		enc.AttentionMask[i] = 1
	}
	return enc
}

// Decode turns ids back into text: subword pieces are glued to their word, words are joined by a
// single space and the spacing before punctuation and contractions is cleaned up.
//
// Special tokens are kept, which is what phrase extraction for detection labels expects.
func (t *Tokenizer) Decode(ids []int64) string {
	var sb strings.Builder
	for i, id := range ids {
		token := t.Token(id)
		if rest, ok := strings.CutPrefix(token, t.opts.SubwordPrefix); ok && i > 0 {
			sb.WriteString(rest)
			continue
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(token)
	}
	return cleanUpSpaces(strings.TrimSpace(sb.String()))
}

// IsSpecial reports whether token is one of the tokenizer's special tokens.
func (t *Tokenizer) IsSpecial(token string) bool {
	_, ok := t.special[token]
	return ok
}

var cleanUpReplacer = strings.NewReplacer(
	" .", ".",
	" ?", "?",
	" !", "!",
	" ,", ",",
	" ' ", "'",
	" n't", "n't",
	" 'm", "'m",
	" 's", "'s",
	" 've", "'ve",
	" 're", "'re",
)

func cleanUpSpaces(s string) string {
	return cleanUpReplacer.Replace(s)
}
