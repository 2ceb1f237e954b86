// Package checkpoint persists model weights as an LZW compressed blob.
package checkpoint

import "bytes"
import "compress/lzw"
import "fmt"
import "io"
import "os"
import "path/filepath"

import "github.com/spf13/afero"

import "github.com/neurlang/finetune/model"

// NotFoundError reports a missing weights file.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("checkpoint: %s not found", e.Path)
}

// IOError reports a failed read or write.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("checkpoint: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Manager saves and loads weights on a filesystem.
type Manager struct {
	Fs afero.Fs
}

// New returns a Manager on the OS filesystem.
func New() *Manager {
	return &Manager{Fs: afero.NewOsFs()}
}

// WriteCompressedWeights writes model weights to a writer
func WriteCompressedWeights(w io.Writer, m model.Model) error {
	state, err := m.State()
	if err != nil {
		return err
	}
	lw := lzw.NewWriter(w, lzw.LSB, 8)
	if _, err := lw.Write(state); err != nil {
		lw.Close()
		return err
	}
	return lw.Close()
}

// ReadCompressedWeights reads model weights from a reader
func ReadCompressedWeights(r io.Reader, m model.Model) error {
	lr := lzw.NewReader(r, lzw.LSB, 8)
	defer lr.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, lr); err != nil {
		return err
	}
	return m.LoadState(buf.Bytes())
}

// Save writes the weights of m to path. The file is written next to path
// and renamed over it, so a reader never sees a partial file.
func (c *Manager) Save(m model.Model, path string) error {
	dir := filepath.Dir(path)
	if err := c.Fs.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "save", Path: path, Err: err}
	}
	tmp, err := afero.TempFile(c.Fs, dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return &IOError{Op: "save", Path: path, Err: err}
	}
	name := tmp.Name()
	err = WriteCompressedWeights(tmp, m)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = c.Fs.Rename(name, path)
	}
	if err != nil {
		_ = c.Fs.Remove(name)
		return &IOError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// Load restores the weights of m from path in place.
func (c *Manager) Load(m model.Model, path string) error {
	file, err := c.Fs.Open(path)
	if os.IsNotExist(err) {
		return &NotFoundError{Path: path}
	}
	if err != nil {
		return &IOError{Op: "load", Path: path, Err: err}
	}
	defer file.Close()
	if err := ReadCompressedWeights(file, m); err != nil {
		return &IOError{Op: "load", Path: path, Err: err}
	}
	return nil
}
