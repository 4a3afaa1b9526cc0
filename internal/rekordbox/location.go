package rekordbox

import (
	"net/url"
	"path/filepath"
	"strings"
)

// resolveLocation prefers the stored file path and falls back to joining
// the folder with the file name.
func resolveLocation(filePath, folder, name string) string {
	if filePath != "" {
		return filePath
	}
	if folder == "" || name == "" {
		return ""
	}
	if strings.HasSuffix(folder, "/") {
		return folder + name
	}
	return folder + "/" + name
}

// decodeLocation turns a collection location into a filesystem path.
// file:// URLs are unescaped; anything else is taken as a path already.
func decodeLocation(loc string) string {
	if loc == "" {
		return ""
	}
	if !strings.HasPrefix(loc, "file://") {
		return loc
	}
	u, err := url.Parse(loc)
	if err != nil || u.Scheme != "file" {
		return loc
	}
	p := u.Path
	// file://localhost/C:/Music/x.mp3 carries a drive letter after the slash.
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}
