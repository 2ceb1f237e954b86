package distributed

import "fmt"

import "github.com/pkg/errors"

var (
	// ErrGroupAborted is returned by every pending and future collective
	// once any rank aborted the group.
	ErrGroupAborted = errors.New("distributed: group aborted")

	// ErrCollectiveMismatch is returned when ranks disagree on the kind,
	// root or payload length of the same collective round.
	ErrCollectiveMismatch = errors.New("distributed: collective mismatch")

	// ErrStaleSession is returned for requests carrying another group's
	// session token.
	ErrStaleSession = errors.New("distributed: stale session")
)

// InitError reports a failed rendezvous.
type InitError struct {
	Addr string
	Rank int
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("distributed: rank %d failed to join group at %s: %v", e.Rank, e.Addr, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// DependencyError reports a collective backend that is not available.
type DependencyError struct {
	Backend string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("distributed: collective backend %q is not available", e.Backend)
}

// AsymmetricEpochError reports ranks reseeding for different epochs.
type AsymmetricEpochError struct {
	Rank   int
	Epochs []int
}

func (e *AsymmetricEpochError) Error() string {
	return fmt.Sprintf("distributed: rank %d saw asymmetric epochs %v", e.Rank, e.Epochs)
}
