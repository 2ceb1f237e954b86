package main

import "os"
import "runtime/pprof"

import "github.com/pkg/errors"

// startProfile collects a CPU profile into path until the returned function
// is called. Feed the file to go build -pgo.
func startProfile(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "profile")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "profile")
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}, nil
}
