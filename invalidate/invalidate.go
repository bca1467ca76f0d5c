// Package invalidate removes every generated variant from the content tree,
// so that they are generated again from their masters on next request.
package invalidate

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/groupclaes/pcm-api-i/content"
	"github.com/groupclaes/pcm-api-i/variant"
)

// Result lists the asset directories a flush visited.
type Result struct {
	Paths  []string `json:"paths"`
	Length int      `json:"length"`
}

// Sweeper flushes the content tree at Root. If Limiter is set, deletions
// are paced by it.
type Sweeper struct {
	Root    string
	Limiter *rate.Limiter
	Log     *slog.Logger
}

// NewSweeper returns a Sweeper for root deleting at most perSecond files a
// second. A perSecond of zero or less does not limit deletions.
func NewSweeper(root string, perSecond float64, log *slog.Logger) *Sweeper {
	s := &Sweeper{Root: root, Log: log}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		s.Limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return s
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// FlushAll deletes the generated files of every asset in the tree. Only a
// failure to read the root directory is returned as an error; failing to
// read a shard or to delete a file is logged and the sweep goes on. The
// result lists every asset directory visited, whether or not it held any
// generated files.
func (s *Sweeper) FlushAll(ctx context.Context) (*Result, error) {
	paths, err := content.AssetDirs(s.Root, func(shard string, err error) {
		s.report(err, "reading shard", shard)
	})
	if err != nil {
		return nil, errors.Wrap(err, "reading content root")
	}
	generated := variant.Generated()
	var deleted, failed int
	pace := s.Limiter != nil
	remove := func(fname string) {
		if pace {
			if err := s.Limiter.Wait(ctx); err != nil {
				// finish the sweep unpaced
				pace = false
			}
		}
		err := os.Remove(fname)
		switch {
		case err == nil:
			deleted++
		case os.IsNotExist(err):
			// removed by someone else since the stat
		default:
			failed++
			s.report(err, "deleting variant", fname)
		}
	}
	now := time.Now()
	for _, p := range paths {
		dir := filepath.Join(s.Root, filepath.FromSlash(p))
		for _, name := range generated {
			fname := filepath.Join(dir, name)
			if _, err := os.Lstat(fname); err != nil {
				continue
			}
			remove(fname)
		}
		for _, name := range staleTemps(dir, now) {
			remove(filepath.Join(dir, name))
		}
	}
	s.logger().Info("flushed variants",
		"assets", len(paths),
		"deleted", deleted,
		"failed", failed)
	if paths == nil {
		paths = []string{}
	}
	return &Result{Paths: paths, Length: len(paths)}, nil
}

// staleAfter is how old a temporary file must be before a flush takes it
// for the leftover of an interrupted write.
const staleAfter = time.Minute

// staleTemps lists the temporary files of generated names in dir which have
// not been touched for staleAfter. Younger ones may still be written to.
func staleTemps(dir string, now time.Time) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var result []string
	for _, e := range entries {
		if e.IsDir() || !isTemp(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < staleAfter {
			continue
		}
		result = append(result, e.Name())
	}
	return result
}

func isTemp(name string) bool {
	for _, g := range variant.Generated() {
		if strings.HasPrefix(name, content.TempPrefix(g)) {
			return true
		}
	}
	return false
}

func (s *Sweeper) report(err error, msg, path string) {
	s.logger().Error(msg, "path", path, "error", err)
	raven.CaptureError(err, map[string]string{"path": path})
}
