package embed

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// tokenizer implements the WordPiece scheme used by the multilingual
// BERT-family encoders this package targets (e5-small, mpnet, and
// similar). It is loaded once from the model's tokenizer.json and
// reused across every Embed/EmbedBatch call.
type tokenizer struct {
	vocab     map[string]int32
	unkToken  string
	unkID     int32
	clsID     int32
	sepID     int32
	padID     int32
	maxInputCharsPerWord int
}

// tokenizerFile mirrors the subset of the HuggingFace "tokenizers"
// fast-tokenizer JSON schema this package depends on: a flat
// token->id vocabulary plus the handful of special tokens every
// BERT-style model declares.
type tokenizerFile struct {
	Model struct {
		Vocab               map[string]int32 `json:"vocab"`
		UnkToken            string           `json:"unk_token"`
		MaxInputCharsPerWord int             `json:"max_input_chars_per_word"`
	} `json:"model"`
	AddedTokens []struct {
		ID      int32  `json:"id"`
		Content string `json:"content"`
	} `json:"added_tokens"`
}

func loadTokenizer(path string) (*tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer file: %w", err)
	}

	var tf tokenizerFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse tokenizer json: %w", err)
	}

	vocab := tf.Model.Vocab
	if vocab == nil {
		vocab = make(map[string]int32)
	}
	for _, added := range tf.AddedTokens {
		vocab[added.Content] = added.ID
	}

	maxChars := tf.Model.MaxInputCharsPerWord
	if maxChars <= 0 {
		maxChars = 100
	}

	unk := tf.Model.UnkToken
	if unk == "" {
		unk = "[UNK]"
	}

	t := &tokenizer{
		vocab:                vocab,
		unkToken:             unk,
		unkID:                vocab[unk],
		clsID:                lookupOrZero(vocab, "[CLS]", "<s>"),
		sepID:                lookupOrZero(vocab, "[SEP]", "</s>"),
		padID:                lookupOrZero(vocab, "[PAD]", "<pad>"),
		maxInputCharsPerWord: maxChars,
	}
	return t, nil
}

func lookupOrZero(vocab map[string]int32, names ...string) int32 {
	for _, n := range names {
		if id, ok := vocab[n]; ok {
			return id
		}
	}
	return 0
}

// encode tokenizes text into (ids, attentionMask) padded/truncated to
// maxLen, bracketed by [CLS]/<s> and [SEP]/</s>.
func (t *tokenizer) encode(text string, maxLen int) ([]int32, []int32) {
	wordpieces := t.wordpieceTokenize(text)

	budget := maxLen - 2 // room for CLS and SEP
	if budget < 0 {
		budget = 0
	}
	if len(wordpieces) > budget {
		wordpieces = wordpieces[:budget]
	}

	ids := make([]int32, 0, maxLen)
	ids = append(ids, t.clsID)
	ids = append(ids, wordpieces...)
	ids = append(ids, t.sepID)

	mask := make([]int32, len(ids))
	for i := range mask {
		mask[i] = 1
	}

	for len(ids) < maxLen {
		ids = append(ids, t.padID)
		mask = append(mask, 0)
	}

	return ids, mask
}

// wordpieceTokenize splits whitespace-separated words into subword
// units by greedy longest-match-first lookup against the vocabulary,
// prefixing continuation pieces with "##" as BERT tokenizers do.
func (t *tokenizer) wordpieceTokenize(text string) []int32 {
	var ids []int32
	for _, word := range strings.Fields(strings.ToLower(text)) {
		ids = append(ids, t.tokenizeWord(word)...)
	}
	return ids
}

func (t *tokenizer) tokenizeWord(word string) []int32 {
	runes := []rune(word)
	if len(runes) > t.maxInputCharsPerWord {
		return []int32{t.unkID}
	}

	var ids []int32
	start := 0
	for start < len(runes) {
		end := len(runes)
		var matchID int32
		matched := false

		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				matchID = id
				matched = true
				break
			}
			end--
		}

		if !matched {
			return []int32{t.unkID}
		}

		ids = append(ids, matchID)
		start = end
	}
	return ids
}

// vocabSize returns the number of entries in the loaded vocabulary.
func (t *tokenizer) vocabSize() int {
	return len(t.vocab)
}

// sortedVocab returns the vocabulary's tokens in sorted order, giving a
// deterministic iteration order over the vocabulary map.
func (t *tokenizer) sortedVocab() []string {
	out := make([]string, 0, len(t.vocab))
	for k := range t.vocab {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
