package core

import (
	"bytes"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"time"
)

var placeholderTypes = map[string]bool{
	".html": true,
	".js":   true,
	".css":  true,
}

// StaticHandler serves root, substituting literal placeholders in text assets.
func StaticHandler(root fs.FS, placeholders map[string]string) http.Handler {
	pairs := make([]string, 0, len(placeholders)*2)
	for k, v := range placeholders {
		pairs = append(pairs, k, v)
	}
	replacer := strings.NewReplacer(pairs...)
	files := http.FileServer(http.FS(root))
	started := time.Now()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		if info, err := fs.Stat(root, name); err == nil && info.IsDir() {
			name = path.Join(name, "index.html")
		}
		if !placeholderTypes[path.Ext(name)] {
			files.ServeHTTP(w, r)
			return
		}

		data, err := fs.ReadFile(root, name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		body := replacer.Replace(string(data))
		http.ServeContent(w, r, name, started, bytes.NewReader([]byte(body)))
	})
}

// StaticRoot picks the configured directory or the embedded fallback.
func StaticRoot(dir string, embedded fs.FS) fs.FS {
	if dir == "" {
		return embedded
	}
	return os.DirFS(dir)
}
