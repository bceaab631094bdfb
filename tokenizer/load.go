package tokenizer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// File names looked up by Load.
const (
	TokenizerFile       = "tokenizer.json"
	VocabFile           = "vocab.txt"
	TokenizerConfigFile = "tokenizer_config.json"
)

// tokenizerJSON is the subset of a Hugging Face tokenizer.json this package understands.
type tokenizerJSON struct {
	Normalizer *struct {
		Type               string `json:"type"`
		CleanText          *bool  `json:"clean_text"`
		HandleChineseChars *bool  `json:"handle_chinese_chars"`
		StripAccents       *bool  `json:"strip_accents"`
		Lowercase          *bool  `json:"lowercase"`
	} `json:"normalizer"`
	Model struct {
		Type                    string           `json:"type"`
		Vocab                   map[string]int64 `json:"vocab"`
		UnkToken                string           `json:"unk_token"`
		ContinuingSubwordPrefix string           `json:"continuing_subword_prefix"`
		MaxInputCharsPerWord    int              `json:"max_input_chars_per_word"`
	} `json:"model"`
	Truncation *struct {
		MaxLength int `json:"max_length"`
	} `json:"truncation"`
}

// tokenizerConfig is the subset of tokenizer_config.json used to override defaults.
type tokenizerConfig struct {
	DoLowerCase    *bool        `json:"do_lower_case"`
	StripAccents   *bool        `json:"strip_accents"`
	ModelMaxLength *float64     `json:"model_max_length"`
	UnkToken       specialToken `json:"unk_token"`
	ClsToken       specialToken `json:"cls_token"`
	SepToken       specialToken `json:"sep_token"`
	PadToken       specialToken `json:"pad_token"`
}

// specialToken accepts both the plain string and the {"content": ...} object forms.
type specialToken string

func (s *specialToken) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*s = specialToken(plain)
		return nil
	}
	var added struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &added); err != nil {
		return err
	}
	*s = specialToken(added.Content)
	return nil
}

// Load builds a tokenizer from a model directory.
//
// tokenizer.json is preferred; vocab.txt is the fallback. When tokenizer_config.json is present
// its casing, special tokens and maximum length override the defaults.
//
// Arguments:
//   - dir: The directory holding the tokenizer files.
//   - maxLength: The maximum sequence length; 0 keeps whatever the files say.
//
// Returns:
//   - *Tokenizer: The tokenizer.
//   - error: ErrNoVocab when neither vocabulary file exists, or a parse error.
func Load(dir string, maxLength int) (*Tokenizer, error) {
	opts := DefaultOptions()

	var (
		vocab map[string]int64
		err   error
	)
	vocab, err = readTokenizerJSON(filepath.Join(dir, TokenizerFile), &opts)
	if errors.Is(err, fs.ErrNotExist) {
		vocab, err = ReadVocab(filepath.Join(dir, VocabFile))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoVocab, dir)
		}
	}
	if err != nil {
		return nil, err
	}

	if err := applyTokenizerConfig(filepath.Join(dir, TokenizerConfigFile), &opts); err != nil {
		return nil, err
	}
	if maxLength > 0 {
		opts.MaxLength = maxLength
	}

	return New(vocab, opts)
}

// ReadVocab reads a one-token-per-line vocab.txt; the line number is the token id.
func ReadVocab(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r")
		if _, dup := vocab[token]; !dup {
			vocab[token] = id
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return vocab, nil
}

func readTokenizerJSON(path string, opts *Options) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tj tokenizerJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	if tj.Model.Type != "" && tj.Model.Type != "WordPiece" {
		return nil, fmt.Errorf("unsupported tokenizer model %q in %s", tj.Model.Type, path)
	}
	if len(tj.Model.Vocab) == 0 {
		return nil, fmt.Errorf("%w: empty vocab in %s", ErrNoVocab, path)
	}

	if tj.Model.UnkToken != "" {
		opts.UnknownToken = tj.Model.UnkToken
	}
	if tj.Model.ContinuingSubwordPrefix != "" {
		opts.SubwordPrefix = tj.Model.ContinuingSubwordPrefix
	}
	if tj.Model.MaxInputCharsPerWord > 0 {
		opts.MaxCharsPerWord = tj.Model.MaxInputCharsPerWord
	}
	if n := tj.Normalizer; n != nil {
		if n.Lowercase != nil {
			opts.Lowercase = *n.Lowercase
		}
		if n.HandleChineseChars != nil {
			opts.HandleCJK = *n.HandleChineseChars
		}
		// A null strip_accents follows lowercase.
		opts.StripAccents = opts.Lowercase
		if n.StripAccents != nil {
			opts.StripAccents = *n.StripAccents
		}
	}
	if tj.Truncation != nil && tj.Truncation.MaxLength > 2 {
		opts.MaxLength = tj.Truncation.MaxLength
	}

	return tj.Model.Vocab, nil
}

func applyTokenizerConfig(path string, opts *Options) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var tc tokenizerConfig
	if err := json.Unmarshal(data, &tc); err != nil {
		return fmt.Errorf("error parsing %s: %w", path, err)
	}
	if tc.DoLowerCase != nil {
		opts.Lowercase = *tc.DoLowerCase
		opts.StripAccents = opts.Lowercase
	}
	if tc.StripAccents != nil {
		opts.StripAccents = *tc.StripAccents
	}
	// Unbounded tokenizers report a huge sentinel here; only take sane values.
	if tc.ModelMaxLength != nil && *tc.ModelMaxLength > 2 && *tc.ModelMaxLength <= 1<<16 {
		opts.MaxLength = int(*tc.ModelMaxLength)
	}
	for _, sp := range []struct {
		value  specialToken
		target *string
	}{
		{tc.UnkToken, &opts.UnknownToken},
		{tc.ClsToken, &opts.ClassifierToken},
		{tc.SepToken, &opts.SeparatorToken},
		{tc.PadToken, &opts.PaddingToken},
	} {
		if sp.value != "" {
			*sp.target = string(sp.value)
		}
	}
	return nil
}
