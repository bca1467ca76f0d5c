package content

import (
	"io"
	"os"
	"path/filepath"
)

// AssetDirs lists every asset directory in the tree at root, as paths of the
// form "ab/abcdef..." relative to root. Only directories are opened, and only
// two levels deep. A shard directory which cannot be read is skipped and
// reported to skip, if it is not nil. An error reading root itself is
// returned.
func AssetDirs(root string, skip func(path string, err error)) ([]string, error) {
	shards, err := readDirNames(root, true)
	if err != nil {
		return nil, err
	}
	var result []string
	for _, shard := range shards {
		if len(shard) != 2 {
			continue
		}
		subs, err := readDirNames(filepath.Join(root, shard), true)
		if err != nil {
			if skip != nil {
				skip(shard, err)
			}
			continue
		}
		for _, sub := range subs {
			result = append(result, shard+"/"+sub)
		}
	}
	return result, nil
}

// readDirNames returns the names of the entries in dir, in directory order.
// If dirsOnly is set, only subdirectories are returned.
func readDirNames(dir string, dirsOnly bool) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var names []string
	for {
		entries, err := f.ReadDir(1000)
		for _, e := range entries {
			if dirsOnly && !e.IsDir() {
				continue
			}
			names = append(names, e.Name())
		}
		if err == io.EOF {
			return names, nil
		} else if err != nil {
			return names, err
		}
	}
}
