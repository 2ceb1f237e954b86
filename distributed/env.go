package distributed

import "net"
import "strconv"

// Env describes this process's place in the group.
type Env struct {
	WorldSize  int
	Rank       int
	MasterAddr string
	MasterPort int
}

// Addr returns the rendezvous address.
func (e Env) Addr() string {
	return net.JoinHostPort(e.MasterAddr, strconv.Itoa(e.MasterPort))
}

// ShouldDistribute reports whether the run needs a process group.
func ShouldDistribute(env Env, backendAvailable bool) bool {
	return env.WorldSize > 1 && backendAvailable
}
