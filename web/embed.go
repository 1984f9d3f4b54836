// Package web holds the document templates rendered by the export pipeline.
package web

import "embed"

// Templates embeds HTML templates.
//
//go:embed templates/*/*.html
var Templates embed.FS
