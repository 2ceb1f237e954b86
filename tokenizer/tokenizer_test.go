package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurlang/finetune/datasets"
)

func newEncoder(t *testing.T, maxLength int) *Encoder {
	e, err := New(NewCharTable(1000), maxLength)
	require.NoError(t, err)
	return e
}

func TestNextPrime(t *testing.T) {
	assert.Equal(t, 2, NextPrime(0))
	assert.Equal(t, 1009, NextPrime(1000))
	assert.Equal(t, 8191, NextPrime(8191))
}

func TestCharTable(t *testing.T) {
	table := NewCharTable(1000)
	assert.Equal(t, 1009, table.Buckets())
	assert.Equal(t, NumSpecial+1009, table.Size())

	tokens := table.Tokens("好 坏\n")
	require.Len(t, tokens, 2)
	for _, id := range tokens {
		assert.GreaterOrEqual(t, id, NumSpecial)
		assert.Less(t, id, table.Size())
	}
	assert.Equal(t, table.Tokens("A"), table.Tokens("a"))
}

func TestEncodeShape(t *testing.T) {
	e := newEncoder(t, DefaultMaxLength)
	samples := []datasets.Sample{
		{Text: "好", Label: 1},
		{Text: "房间很干净", Label: 1},
		{Text: "", Label: 0},
	}
	b, err := e.Encode(samples)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 0}, b.Labels)
	require.Equal(t, 3, b.Inputs.Rows())
	assert.Equal(t, 7, b.Inputs.Width())
	for i, row := range b.Inputs.IDs {
		assert.Len(t, row, 7)
		assert.Len(t, b.Inputs.Mask[i], 7)
		assert.Equal(t, ClsID, row[0])
	}
	assert.Equal(t, []int{ClsID, SepID, PadID, PadID, PadID, PadID, PadID}, b.Inputs.IDs[2])
	assert.Equal(t, []bool{true, true, false, false, false, false, false}, b.Inputs.Mask[2])
}

func TestEncodeTruncates(t *testing.T) {
	e := newEncoder(t, 8)
	b, err := e.Encode([]datasets.Sample{{Text: strings.Repeat("好", 100), Label: 1}})
	require.NoError(t, err)
	row := b.Inputs.IDs[0]
	require.Len(t, row, 8)
	assert.Equal(t, ClsID, row[0])
	assert.Equal(t, SepID, row[7])
}

func TestEncodeScenario(t *testing.T) {
	e := newEncoder(t, DefaultMaxLength)
	src := []datasets.Sample{{Text: "好", Label: 1}, {Text: "坏", Label: 0}, {Text: "一般", Label: 1}, {Text: "差", Label: 0}}
	for i := 0; i < len(src); i += 2 {
		b, err := e.Encode(src[i : i+2])
		require.NoError(t, err)
		assert.Equal(t, []int{1, 0}, b.Labels)
	}
}

func TestEncodeErrors(t *testing.T) {
	e := newEncoder(t, DefaultMaxLength)
	_, err := e.Encode(nil)
	assert.Error(t, err)
	_, err = e.Encode([]datasets.Sample{{Text: "x", Label: -2}})
	assert.Error(t, err)

	_, err = New(NewCharTable(10), 2)
	assert.Error(t, err)
	_, err = New(nil, 10)
	assert.Error(t, err)
}

func FuzzEncodeRowsEqualWidth(f *testing.F) {
	f.Add("好", "房间很干净，服务员态度也很好")
	f.Add("", "a b c")
	f.Fuzz(func(t *testing.T, a, b string) {
		e, err := New(NewCharTable(97), 16)
		if err != nil {
			t.Fatal(err)
		}
		batch, err := e.Encode([]datasets.Sample{{Text: a}, {Text: b}})
		if err != nil {
			t.Fatal(err)
		}
		if len(batch.Labels) != 2 || batch.Inputs.Rows() != 2 {
			t.Fatalf("rows %d labels %d", batch.Inputs.Rows(), len(batch.Labels))
		}
		if len(batch.Inputs.IDs[0]) != len(batch.Inputs.IDs[1]) || batch.Inputs.Width() > 16 {
			t.Fatalf("uneven rows %v", batch.Inputs.IDs)
		}
	})
}

func TestNewTable(t *testing.T) {
	table, err := NewTable("char", 100)
	require.NoError(t, err)
	assert.Equal(t, NumSpecial+101, table.Size())

	_, err = NewTable("wordpiece", 100)
	assert.Error(t, err)
}
