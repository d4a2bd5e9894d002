// Package web serves the embedded status dashboard: a single static
// page that connects to /v1/ws and renders reader state as it
// changes, with no build step or external asset pipeline.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var staticFS embed.FS

// Handler serves the embedded dashboard at "/" and its assets below
// it, rooted at the "static" subdirectory of the embedded tree.
func Handler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("web: static assets missing from build: " + err.Error())
	}
	return http.FileServer(http.FS(sub))
}
