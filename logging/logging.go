// Package logging builds the structured logger shared by every component.
package logging

import "os"

import "github.com/go-logr/logr"
import "github.com/go-logr/zapr"
import "github.com/pkg/errors"
import "go.uber.org/zap"
import "go.uber.org/zap/zapcore"

// New returns a JSON logger writing to path, or to stdout when path is
// empty. The returned function flushes and closes the sink.
func New(path string) (logr.Logger, func() error, error) {
	sink := zapcore.AddSync(os.Stdout)
	closer := func() error { return nil }
	if path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return logr.Discard(), closer, errors.Wrapf(err, "logging: opening %s", path)
		}
		sink = zapcore.AddSync(file)
		closer = file.Close
	}
	return NewWithSink(sink), closer, nil
}

// NewWithSink returns a JSON logger writing to w.
func NewWithSink(w zapcore.WriteSyncer) logr.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, zap.DebugLevel)
	return zapr.NewLogger(zap.New(core))
}
