package invalidate

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// returns abs path to the root of the new tree.
func makeTmpTree(t *testing.T, files []string) string {
	root := t.TempDir()
	for _, s := range files {
		p := filepath.Join(root, s)
		if strings.HasSuffix(s, "/") {
			require.NoError(t, os.MkdirAll(p, 0777))
		} else {
			require.NoError(t, os.MkdirAll(filepath.Dir(p), 0777))
			require.NoError(t, os.WriteFile(p, []byte("x"), 0666))
		}
	}
	return root
}

func exists(root, p string) bool {
	_, err := os.Stat(filepath.Join(root, p))
	return err == nil
}

func TestFlushAllSingleAsset(t *testing.T) {
	id := "ab/1111aaaa-0000-0000-0000-000000000000"
	root := makeTmpTree(t, []string{
		id + "/file",
		id + "/thumb",
		id + "/thumb_etag",
	})
	res, err := NewSweeper(root, 0, nil).FlushAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{id}, res.Paths)
	assert.Equal(t, 1, res.Length)
	assert.False(t, exists(root, id+"/thumb"))
	assert.False(t, exists(root, id+"/thumb_etag"))
	assert.True(t, exists(root, id+"/file"))
}

func TestFlushAllEverything(t *testing.T) {
	root := makeTmpTree(t, []string{
		"ab/abcd/file",
		"ab/abcd/small",
		"ab/abcd/small_etag",
		"ab/abcd/image_small",
		"ab/abcd/color_code",
		"ab/abcd/border-color_code",
		"ab/abcd/background-color_code",
		"ab/abcd/notes.txt",
		"ab/abce/",
		"cd/cdef/thumb_l_etag", // orphaned sidecar
		"cd/cdef/image_large",
		"toolong/x/thumb",
		"stray-file",
	})
	res, err := NewSweeper(root, 1000, nil).FlushAll(context.Background())
	require.NoError(t, err)
	sort.Strings(res.Paths)
	assert.Equal(t, []string{"ab/abcd", "ab/abce", "cd/cdef"}, res.Paths)
	assert.Equal(t, 3, res.Length)

	for _, gone := range []string{
		"ab/abcd/small", "ab/abcd/small_etag", "ab/abcd/image_small",
		"ab/abcd/color_code", "ab/abcd/border-color_code", "ab/abcd/background-color_code",
		"cd/cdef/thumb_l_etag", "cd/cdef/image_large",
	} {
		assert.False(t, exists(root, gone), gone)
	}
	for _, kept := range []string{"ab/abcd/file", "ab/abcd/notes.txt", "toolong/x/thumb", "stray-file"} {
		assert.True(t, exists(root, kept), kept)
	}
}

func TestFlushAllEmptyRoot(t *testing.T) {
	res, err := NewSweeper(t.TempDir(), 0, nil).FlushAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Length)
	assert.NotNil(t, res.Paths)
}

func TestFlushAllMissingRoot(t *testing.T) {
	_, err := NewSweeper(filepath.Join(t.TempDir(), "missing"), 0, nil).FlushAll(context.Background())
	assert.Error(t, err)
}

func TestFlushAllDeleteFailureContinues(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	root := makeTmpTree(t, []string{
		"ab/abcd/thumb",
		"cd/cdef/thumb",
	})
	locked := filepath.Join(root, "ab", "abcd")
	require.NoError(t, os.Chmod(locked, 0555))
	defer os.Chmod(locked, 0775)

	res, err := NewSweeper(root, 0, nil).FlushAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Length)
	assert.True(t, exists(root, "ab/abcd/thumb"))
	assert.False(t, exists(root, "cd/cdef/thumb"))
}

func TestFlushAllCancelledLimiter(t *testing.T) {
	root := makeTmpTree(t, []string{
		"ab/abcd/thumb",
		"ab/abcd/small",
		"ab/abcd/image",
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewSweeper(root, 0.001, nil).FlushAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Length)
	assert.False(t, exists(root, "ab/abcd/thumb"))
	assert.False(t, exists(root, "ab/abcd/image"))
}

func TestFlushAllInterruptedWrites(t *testing.T) {
	root := makeTmpTree(t, []string{
		"ab/abcd/file",
		"ab/abcd/.thumb.123456",
		"ab/abcd/.thumb_etag.654321",
		"ab/abcd/.color_code.111",
		"ab/abcd/.thumb.999999", // still being written
		"ab/abcd/.file.222",
		"ab/abcd/.notes",
	})
	old := time.Now().Add(-time.Hour)
	for _, name := range []string{".thumb.123456", ".thumb_etag.654321", ".color_code.111", ".file.222", ".notes"} {
		require.NoError(t, os.Chtimes(filepath.Join(root, "ab/abcd", name), old, old))
	}

	_, err := NewSweeper(root, 0, nil).FlushAll(context.Background())
	require.NoError(t, err)
	for _, gone := range []string{".thumb.123456", ".thumb_etag.654321", ".color_code.111"} {
		assert.False(t, exists(root, "ab/abcd/"+gone), gone)
	}
	for _, kept := range []string{"file", ".thumb.999999", ".file.222", ".notes"} {
		assert.True(t, exists(root, "ab/abcd/"+kept), kept)
	}
}
