// Package tokenizer encodes raw samples into padded, fixed-shape batches
package tokenizer

import "github.com/pkg/errors"

import "github.com/neurlang/finetune/datasets"
import "github.com/neurlang/finetune/model"

// Reserved ids.
const (
	PadID = iota
	UnkID
	ClsID
	SepID

	NumSpecial
)

// DefaultMaxLength is the longest encoded row, markers included.
const DefaultMaxLength = 512

// Encoder collates samples into batches. It holds no mutable state.
type Encoder struct {
	table     Table
	maxLength int
}

// New creates an encoder over table. maxLength counts the [CLS] and [SEP]
// markers and must leave room for at least one token.
func New(table Table, maxLength int) (*Encoder, error) {
	if table == nil {
		return nil, errors.New("tokenizer: nil table")
	}
	if maxLength < 3 {
		return nil, errors.Errorf("tokenizer: max length %d too small", maxLength)
	}
	return &Encoder{table: table, maxLength: maxLength}, nil
}

// VocabSize returns the number of distinct ids the encoder can produce.
func (e *Encoder) VocabSize() int {
	return e.table.Size()
}

// MaxLength returns the truncation length.
func (e *Encoder) MaxLength() int {
	return e.maxLength
}

// EncodeText returns [CLS] tokens... [SEP], truncated to the max length.
func (e *Encoder) EncodeText(text string) []int {
	tokens := e.table.Tokens(text)
	if len(tokens) > e.maxLength-2 {
		tokens = tokens[:e.maxLength-2]
	}
	var out = make([]int, 0, len(tokens)+2)
	out = append(out, ClsID)
	out = append(out, tokens...)
	return append(out, SepID)
}

// EncodeTexts pads every encoded text to the longest one.
func (e *Encoder) EncodeTexts(texts []string) (model.EncodedInput, error) {
	if len(texts) == 0 {
		return model.EncodedInput{}, errors.New("tokenizer: empty batch")
	}
	var rows = make([][]int, len(texts))
	var width int
	for i, text := range texts {
		rows[i] = e.EncodeText(text)
		if len(rows[i]) > width {
			width = len(rows[i])
		}
	}
	var in = model.EncodedInput{
		IDs:  make([][]int, len(rows)),
		Mask: make([][]bool, len(rows)),
	}
	for i, row := range rows {
		in.IDs[i] = make([]int, width)
		in.Mask[i] = make([]bool, width)
		copy(in.IDs[i], row)
		for j := range row {
			in.Mask[i][j] = true
		}
	}
	return in, nil
}

// Encode collates samples into one batch with labels aligned by row.
func (e *Encoder) Encode(samples []datasets.Sample) (model.Batch, error) {
	var texts = make([]string, len(samples))
	var labels = make([]int, len(samples))
	for i, s := range samples {
		if s.Label < 0 {
			return model.Batch{}, errors.Errorf("tokenizer: sample %d has negative label %d", i, s.Label)
		}
		texts[i] = s.Text
		labels[i] = s.Label
	}
	in, err := e.EncodeTexts(texts)
	if err != nil {
		return model.Batch{}, err
	}
	return model.Batch{Inputs: in, Labels: labels}, nil
}
