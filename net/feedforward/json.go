package feedforward

import "encoding/binary"
import "encoding/json"
import "math"

import "github.com/pkg/errors"
import "github.com/google/go-cmp/cmp"

// weights holds raw IEEE 754 bits so that diverged (NaN, Inf) values can
// still be saved and restored exactly.
type weights []float64

func (w weights) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 8*len(w))
	for i, x := range w {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	return json.Marshal(buf)
}

func (w *weights) UnmarshalJSON(data []byte) error {
	var buf []byte
	if err := json.Unmarshal(data, &buf); err != nil {
		return err
	}
	if len(buf)%8 != 0 {
		return errors.Errorf("feedforward: weight payload of %d bytes", len(buf))
	}
	out := make(weights, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	*w = out
	return nil
}

type jsonParam struct {
	Name  string  `json:"name"`
	Shape []int   `json:"shape"`
	Data  weights `json:"data"`
}

type jsonWeights struct {
	Params []jsonParam `json:"params"`
}

// State serializes model weights to JSON
func (f *FeedforwardNetwork) State() ([]byte, error) {
	var w jsonWeights
	for _, p := range f.Parameters() {
		w.Params = append(w.Params, jsonParam{Name: p.Name, Shape: p.Shape, Data: p.Data})
	}
	return json.Marshal(w)
}

// LoadState reads model weights produced by State. The stored shapes must
// match the network exactly; nothing is modified on mismatch.
func (f *FeedforwardNetwork) LoadState(data []byte) error {
	var w jsonWeights
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "feedforward: decoding weights")
	}
	params := f.Parameters()
	if len(w.Params) != len(params) {
		return errors.Errorf("feedforward: stored %d tensors, network has %d", len(w.Params), len(params))
	}
	for i, p := range params {
		stored := w.Params[i]
		if stored.Name != p.Name {
			return errors.Errorf("feedforward: stored tensor %d is %q, want %q", i, stored.Name, p.Name)
		}
		if !cmp.Equal(stored.Shape, p.Shape) || len(stored.Data) != len(p.Data) {
			return errors.Errorf("feedforward: tensor %q has shape %v, want %v", p.Name, stored.Shape, p.Shape)
		}
	}
	for i, p := range params {
		copy(p.Data, w.Params[i].Data)
	}
	f.last = nil
	return nil
}
