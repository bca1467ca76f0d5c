package variant

import "fmt"

// Defaults used when a size class is not in the tables.
const (
	DefaultSize    = 800
	DefaultQuality = 85
)

// Tables map size classes to pixel sizes and encoder quality, and pixel
// sizes to the variant file which caches them.
type Tables struct {
	Sizes          map[string]int
	Quality        map[string]int
	Files          map[int]string
	DefaultSize    int
	DefaultQuality int
}

// DefaultTables returns the built in size classes.
func DefaultTables() *Tables {
	t := &Tables{
		Sizes: map[string]int{
			"miniature":   64,
			"thumb":       128,
			"thumb_m":     192,
			"thumb_l":     256,
			"thumb_large": 320,
			"small":       480,
			"image":       800,
			"image_large": 1600,
		},
		Quality: map[string]int{
			"miniature":   80,
			"thumb":       80,
			"thumb_m":     80,
			"thumb_l":     80,
			"thumb_large": 80,
			"small":       85,
			"image":       85,
			"image_large": 90,
		},
		DefaultSize:    DefaultSize,
		DefaultQuality: DefaultQuality,
	}
	t.Files = FilesFor(t.Sizes)
	return t
}

// FilesFor names the variant file for each size, using the size class
// which maps to it. Only classes which are generated variant names qualify.
func FilesFor(sizes map[string]int) map[int]string {
	files := make(map[int]string)
	for _, name := range Names {
		if px, ok := sizes[name]; ok && px > 0 {
			if _, taken := files[px]; !taken {
				files[px] = name
			}
		}
	}
	return files
}

// Validate checks the tables are usable.
func (t *Tables) Validate() error {
	for class, px := range t.Sizes {
		if px < 0 {
			return fmt.Errorf("size class %q has negative size %d", class, px)
		}
	}
	for class, q := range t.Quality {
		if q < 1 || q > MaxQuality {
			return fmt.Errorf("size class %q has quality %d outside 1..%d", class, q, MaxQuality)
		}
	}
	for px, name := range t.Files {
		if !isVariant(name) {
			return fmt.Errorf("size %d maps to %q which is not a variant name", px, name)
		}
	}
	return nil
}

func (t *Tables) size(class string) int {
	if px, ok := t.Sizes[class]; ok {
		return px
	}
	if t.DefaultSize > 0 {
		return t.DefaultSize
	}
	return DefaultSize
}

func (t *Tables) quality(class string) int {
	if q, ok := t.Quality[class]; ok {
		return q
	}
	if t.DefaultQuality > 0 {
		return t.DefaultQuality
	}
	return DefaultQuality
}

func isVariant(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}
