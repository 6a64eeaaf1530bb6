package web

import (
	"embed"
	"io/fs"
)

//go:embed static
var static embed.FS

// Static returns the single-page client bundle rooted at static/.
func Static() fs.FS {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
