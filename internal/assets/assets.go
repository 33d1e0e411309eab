// Package assets embeds the default index page spec.md §4.6 serves when
// no -I/--index override is given. It ships gzip-compressed, matching the
// "gzip magic is 1f 8b" negotiation internal/httpstatic already handles.
package assets

import _ "embed"

//go:embed index.html.gz
var DefaultIndexGzip []byte
