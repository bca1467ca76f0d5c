package content

import (
	"io"
	"os"
	"path/filepath"
)

// AtomicFile is a file being written under a temporary name. Close moves it
// into place so readers never see a partially written file. Abort discards
// it instead.
type AtomicFile struct {
	*os.File
	target string
	done   bool
}

// TempPrefix is the prefix of the temporary files CreateAtomic uses while
// writing the file name.
func TempPrefix(name string) string {
	return "." + name + "."
}

// CreateAtomic starts writing the file target. The temporary file lives in
// the same directory so the final rename does not cross file systems. An
// existing target is replaced when the writer is closed.
func CreateAtomic(target string) (*AtomicFile, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, TempPrefix(filepath.Base(target))+"*")
	if err != nil {
		return nil, err
	}
	return &AtomicFile{File: f, target: target}, nil
}

// Close flushes the file and renames it onto the target. If anything fails
// the temporary file is removed.
func (w *AtomicFile) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	err := w.File.Close()
	if err == nil {
		err = os.Rename(w.File.Name(), w.target)
	}
	if err != nil {
		os.Remove(w.File.Name())
	}
	return err
}

// Abort throws away whatever was written. The target is left untouched.
func (w *AtomicFile) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.File.Close()
	os.Remove(w.File.Name())
}

// WriteAtomic replaces target with data.
func WriteAtomic(target string, data []byte) error {
	w, err := CreateAtomic(target)
	if err != nil {
		return err
	}
	if _, err = w.Write(data); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

// CopyAtomic replaces target with everything read from r.
func CopyAtomic(target string, r io.Reader) (int64, error) {
	w, err := CreateAtomic(target)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		w.Abort()
		return n, err
	}
	return n, w.Close()
}
