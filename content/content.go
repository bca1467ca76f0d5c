// Package content maps asset identities onto the sharded content tree and
// reads master files out of it.
//
// The tree is laid out as
//
//	{root}/{first two characters of identity}/{identity}/file
//
// with generated variants and their sidecars stored next to "file" in the
// same directory. The two character shard keeps the fan-out of the root
// directory small. Identities are always lowercased before use, so lookups
// are case-insensitive.
package content

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MasterName is the file name of the master asset inside an asset directory.
const MasterName = "file"

// ErrNotFound means there is no master file for the identity. It is an
// expected outcome, not a failure.
var ErrNotFound = errors.New("asset not found")

// Identity is the canonical, lowercase name of a stored asset.
type Identity string

// Normalize returns the canonical form of s.
func Normalize(s string) Identity {
	return Identity(strings.ToLower(strings.TrimSpace(s)))
}

// Shard returns the directory fan-out key for the identity: its first two
// characters. Shorter identities are their own shard.
func (id Identity) Shard() string {
	if len(id) < 2 {
		return string(id)
	}
	return string(id[0:2])
}

func (id Identity) String() string { return string(id) }

// valid rejects identities which would escape the content tree or could not
// be a directory name.
func (id Identity) valid() bool {
	if len(id) < 2 || !utf8.ValidString(string(id)) {
		return false
	}
	if strings.ContainsAny(string(id), `/\`) || strings.Contains(string(id), "..") {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// An Asset is a master file found in the content tree.
type Asset struct {
	Identity Identity
	Dir      string // directory holding the master and its variants
	Path     string // path of the master file
	ModTime  time.Time
}

// Locator resolves identities against a content tree rooted at Root.
// It never modifies the tree.
type Locator struct {
	Root string
}

// NewLocator returns a Locator for the content tree at root.
func NewLocator(root string) *Locator {
	return &Locator{Root: root}
}

// Dir returns the asset directory the given identity maps to. It does not
// check whether the directory exists.
func (l *Locator) Dir(id Identity) string {
	return filepath.Join(l.Root, id.Shard(), string(id))
}

// Locate looks up the master file for the identity. A missing master is
// reported as ErrNotFound.
func (l *Locator) Locate(identity string) (*Asset, error) {
	id := Normalize(identity)
	if !id.valid() {
		return nil, ErrNotFound
	}
	dir := l.Dir(id)
	fname := filepath.Join(dir, MasterName)
	fi, err := os.Stat(fname)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if fi.IsDir() {
		return nil, ErrNotFound
	}
	return &Asset{
		Identity: id,
		Dir:      dir,
		Path:     fname,
		ModTime:  fi.ModTime(),
	}, nil
}

// Open opens the master file. If the file disappeared after Locate found it,
// ErrNotFound is returned.
func (a *Asset) Open() (*os.File, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// ReadAll returns the contents of the master file. The read, not the earlier
// stat, decides whether the asset exists.
func (a *Asset) ReadAll() ([]byte, error) {
	f, err := a.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Sniff returns the media type of the master file from its leading bytes.
// SVG documents are recognised in addition to what http.DetectContentType
// knows about.
func (a *Asset) Sniff() (string, error) {
	f, err := a.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return sniff(buf[:n]), nil
}

func sniff(data []byte) string {
	ctype := http.DetectContentType(data)
	if strings.HasPrefix(ctype, "text/xml") || strings.HasPrefix(ctype, "text/plain") {
		if strings.Contains(strings.ToLower(string(data)), "<svg") {
			return "image/svg+xml"
		}
	}
	return ctype
}
