package checkpoint

import "errors"
import "math"
import "testing"

import "github.com/spf13/afero"
import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

import "github.com/neurlang/finetune/model"
import "github.com/neurlang/finetune/net/feedforward"

func network(t *testing.T, seed int64) *feedforward.FeedforwardNetwork {
	f, err := feedforward.New(feedforward.Config{VocabSize: 13, EmbeddingDim: 4, HiddenDim: 3, Classes: 2, Seed: seed})
	require.NoError(t, err)
	return f
}

var input = model.EncodedInput{
	IDs:  [][]int{{2, 7, 11, 3}, {2, 5, 3, 0}},
	Mask: [][]bool{{true, true, true, true}, {true, true, true, false}},
}

func TestRoundTrip(t *testing.T) {
	c := &Manager{Fs: afero.NewMemMapFs()}
	saved, loaded := network(t, 1), network(t, 2)

	require.NoError(t, c.Save(saved, "out/pert.bin"))
	require.NoError(t, c.Load(loaded, "out/pert.bin"))

	want, err := saved.Forward(input)
	require.NoError(t, err)
	got, err := loaded.Forward(input)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	leftovers, err := afero.Glob(c.Fs, "out/*.tmp")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestRoundTripNonFinite(t *testing.T) {
	c := &Manager{Fs: afero.NewMemMapFs()}
	saved, loaded := network(t, 1), network(t, 2)
	bias := saved.Parameters()[4]
	bias.Data[0] = math.NaN()
	bias.Data[1] = math.Inf(1)
	saved.Parameters()[0].Data[3] = math.Inf(-1)

	require.NoError(t, c.Save(saved, "pert.bin"))
	require.NoError(t, c.Load(loaded, "pert.bin"))

	for i, p := range saved.Parameters() {
		got := loaded.Parameters()[i]
		require.Len(t, got.Data, len(p.Data))
		for j := range p.Data {
			assert.Equal(t, math.Float64bits(p.Data[j]), math.Float64bits(got.Data[j]), "%s[%d]", p.Name, j)
		}
	}
	assert.True(t, math.IsNaN(loaded.Parameters()[4].Data[0]))
	assert.True(t, math.IsInf(loaded.Parameters()[4].Data[1], 1))
}

func TestLoadMissing(t *testing.T) {
	c := &Manager{Fs: afero.NewMemMapFs()}
	err := c.Load(network(t, 1), "pert.bin")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "pert.bin", nf.Path)
	assert.Contains(t, err.Error(), "checkpoint: ")
}

func TestLoadCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "pert.bin", []byte("garbage"), 0o644))
	c := &Manager{Fs: fs}
	err := c.Load(network(t, 1), "pert.bin")
	var ioErr *IOError
	assert.True(t, errors.As(err, &ioErr))
}

func TestLoadShapeMismatch(t *testing.T) {
	c := &Manager{Fs: afero.NewMemMapFs()}
	require.NoError(t, c.Save(network(t, 1), "pert.bin"))

	other, err := feedforward.New(feedforward.Config{VocabSize: 13, EmbeddingDim: 5, HiddenDim: 3, Classes: 2})
	require.NoError(t, err)
	var ioErr *IOError
	assert.True(t, errors.As(c.Load(other, "pert.bin"), &ioErr))
}

func TestSaveReadOnly(t *testing.T) {
	c := &Manager{Fs: afero.NewReadOnlyFs(afero.NewMemMapFs())}
	err := c.Save(network(t, 1), "pert.bin")
	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "save", ioErr.Op)
}

type failingModel struct {
	model.Model
}

func (failingModel) State() ([]byte, error) {
	return nil, errors.New("no state")
}

func TestSaveKeepsPreviousFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := &Manager{Fs: fs}
	good := network(t, 1)
	require.NoError(t, c.Save(good, "pert.bin"))
	before, err := afero.ReadFile(fs, "pert.bin")
	require.NoError(t, err)

	var ioErr *IOError
	require.True(t, errors.As(c.Save(failingModel{good}, "pert.bin"), &ioErr))

	after, err := afero.ReadFile(fs, "pert.bin")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
