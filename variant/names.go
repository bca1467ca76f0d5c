package variant

// Master is the name of the master file in an asset directory. A request
// which maps to no generated variant is served from the master.
const Master = "file"

// EtagSuffix is appended to a variant name to form the name of its etag
// sidecar.
const EtagSuffix = "_etag"

// Names lists every variant the transcoder may write into an asset
// directory. It is the only list of variant names; delivery and invalidation
// both use it.
var Names = []string{
	"small",
	"thumb",
	"thumb_m",
	"thumb_l",
	"thumb_large",
	"miniature",
	"image",
	"image_large",
}

// LegacyNames are variants written by earlier deployments which are still
// removed by a flush but never generated anymore.
var LegacyNames = []string{
	"image_small",
}

// ColorSidecars hold precomputed colour values. They have no etag sidecar of
// their own.
var ColorSidecars = []string{
	"border-color_code",
	"background-color_code",
	"color_code",
}

// ColorSidecar is the sidecar the transcoder keeps the dominant colour in.
const ColorSidecar = "color_code"

// Generated returns the name of every file which may be generated next to a
// master: each variant and its etag sidecar, followed by the colour sidecars.
func Generated() []string {
	var result []string
	for _, list := range [][]string{Names, LegacyNames} {
		for _, name := range list {
			result = append(result, name, name+EtagSuffix)
		}
	}
	return append(result, ColorSidecars...)
}

// IsGenerated reports whether name is one of the files in Generated().
func IsGenerated(name string) bool {
	for _, g := range Generated() {
		if g == name {
			return true
		}
	}
	return false
}
