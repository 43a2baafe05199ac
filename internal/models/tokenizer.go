package models

import (
	"github.com/daulet/tokenizers"
)

// ContextLength is the fixed CLIP text sequence length.
const ContextLength = 77

type Tokenizer struct {
	tk *tokenizers.Tokenizer
}

func NewTokenizer(path string) (*Tokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, err
	}
	return &Tokenizer{tk: tk}, nil
}

// Encode returns input ids and attention mask padded to maxLen.
func (t *Tokenizer) Encode(text string, maxLen int) ([]int64, []int64, error) {
	ids, _ := t.tk.Encode(text, true)
	inputIDs, mask := PadTokens(ids, maxLen)
	return inputIDs, mask, nil
}

func (t *Tokenizer) Close() error {
	return t.tk.Close()
}

// PadTokens pads or truncates ids to maxLen. A truncated sequence keeps its
// final token, which for CLIP is end-of-text and drives the pooled output.
func PadTokens(ids []uint32, maxLen int) ([]int64, []int64) {
	inputIDs := make([]int64, maxLen)
	mask := make([]int64, maxLen)
	if maxLen == 0 {
		return inputIDs, mask
	}

	n := len(ids)
	if n > maxLen {
		n = maxLen
	}
	for i := 0; i < n; i++ {
		inputIDs[i] = int64(ids[i])
		mask[i] = 1
	}
	if len(ids) > maxLen {
		inputIDs[maxLen-1] = int64(ids[len(ids)-1])
	}

	return inputIDs, mask
}
