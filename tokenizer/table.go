package tokenizer

import "unicode"

import "github.com/jbarham/primegen"
import tiktoken "github.com/pkoukk/tiktoken-go"
import "github.com/pkg/errors"

import "github.com/neurlang/finetune/hash"

// Table maps raw text to token ids. Ids below NumSpecial are reserved.
type Table interface {

	// Tokens returns the ids of text, without markers, all >= NumSpecial.
	Tokens(text string) []int

	// Size returns the number of distinct ids including the reserved ones.
	Size() int
}

// NextPrime returns the smallest prime >= n.
func NextPrime(n int) int {
	if n < 2 {
		return 2
	}
	p := primegen.New()
	p.SkipTo(uint64(n))
	return int(p.Next())
}

// CharTable gives every rune its own token, like the character level
// vocabularies of Chinese encoders. Runes are folded into a prime number of
// buckets, so the table needs no vocabulary file and is identical on every
// process.
type CharTable struct {
	buckets uint32
	salt    uint32
}

// NewCharTable creates a table of at least buckets ids.
func NewCharTable(buckets int) *CharTable {
	return &CharTable{buckets: uint32(NextPrime(buckets))}
}

// Buckets returns the number of hashed ids.
func (c *CharTable) Buckets() int {
	return int(c.buckets)
}

func (c *CharTable) Tokens(text string) []int {
	var out = make([]int, 0, len(text))
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			continue
		}
		r = unicode.ToLower(r)
		out = append(out, NumSpecial+int(hash.Rune(r, c.salt, c.buckets)))
	}
	return out
}

func (c *CharTable) Size() int {
	return NumSpecial + int(c.buckets)
}

// BPETable splits text with a byte pair encoding and folds the encoding ids
// into a prime number of buckets.
type BPETable struct {
	enc     *tiktoken.Tiktoken
	buckets uint32
}

// NewBPETable loads a named tiktoken encoding, for example cl100k_base.
func NewBPETable(encoding string, buckets int) (*BPETable, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, errors.Wrapf(err, "tokenizer: load encoding %s", encoding)
	}
	return &BPETable{enc: enc, buckets: uint32(NextPrime(buckets))}, nil
}

func (b *BPETable) Tokens(text string) []int {
	ids := b.enc.EncodeOrdinary(text)
	var out = make([]int, len(ids))
	for i, id := range ids {
		out[i] = NumSpecial + int(hash.Uint(id, 0, b.buckets))
	}
	return out
}

func (b *BPETable) Size() int {
	return NumSpecial + int(b.buckets)
}

// NewTable returns the table named by vocab, "char" or "bpe".
func NewTable(vocab string, buckets int) (Table, error) {
	switch vocab {
	case "char":
		return NewCharTable(buckets), nil
	case "bpe":
		t, err := NewBPETable("cl100k_base", buckets)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, errors.Errorf("tokenizer: unknown vocabulary %q", vocab)
}
