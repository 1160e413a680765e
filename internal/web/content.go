package web

import "embed"

//go:embed static
var ContentFS embed.FS
