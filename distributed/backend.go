package distributed

import "context"
import "encoding/binary"
import "encoding/json"
import "math"

import "github.com/pkg/errors"

// Kind names a collective operation.
type Kind string

const (
	KindAllReduce Kind = "allreduce"
	KindBroadcast Kind = "broadcast"
	KindAllGather Kind = "allgather"
)

// Vector is a float payload. It is carried as raw IEEE 754 bits so that
// non-finite values survive the wire.
type Vector []float64

// MarshalJSON encodes the vector as base64 little endian bits.
func (v Vector) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	return json.Marshal(buf)
}

// UnmarshalJSON decodes a vector encoded by MarshalJSON.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var buf []byte
	if err := json.Unmarshal(data, &buf); err != nil {
		return err
	}
	if len(buf)%8 != 0 {
		return errors.Errorf("distributed: vector payload of %d bytes", len(buf))
	}
	out := make(Vector, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	*v = out
	return nil
}

// JoinRequest announces a rank to the rendezvous.
type JoinRequest struct {
	Rank      int `json:"rank"`
	WorldSize int `json:"world_size"`
}

// JoinResponse carries the session token of the group.
type JoinResponse struct {
	Session string `json:"session"`
}

// Request is one rank's contribution to collective round Seq.
type Request struct {
	Session string `json:"session"`
	Rank    int    `json:"rank"`
	Seq     uint64 `json:"seq"`
	Kind    Kind   `json:"kind"`
	Root    int    `json:"root"`
	Data    Vector `json:"data"`
}

// Response is the outcome of a collective round.
type Response struct {
	Data Vector `json:"data"`
}

// AbortRequest tears the group down for every rank.
type AbortRequest struct {
	Session string `json:"session"`
	Rank    int    `json:"rank"`
	Reason  string `json:"reason"`
}

// AbortResponse is empty.
type AbortResponse struct{}

// Backend moves collective rounds between the ranks of one group.
type Backend interface {

	// Join blocks until every rank of the world joined and returns the
	// session token.
	Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error)

	// Exchange contributes to one round and blocks until it completes.
	Exchange(ctx context.Context, req *Request) (*Response, error)

	// Abort fails every pending and future round of the group.
	Abort(ctx context.Context, req *AbortRequest) error

	// Close releases the backend.
	Close() error
}
