package server

import (
	"fmt"
	"os"

	"gottyd/internal/assets"
	"gottyd/internal/config"
)

// defaultIndexLoader resolves the -I/--index override (if any) or falls
// back to the embedded default page (spec.md §4.6).
func defaultIndexLoader(s *Server) ([]byte, error) {
	path := s.opts.IndexPath
	if path == "" {
		return assets.DefaultIndexGzip, nil
	}
	resolved, err := config.ResolveIndexPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("server: read index %s: %w", resolved, err)
	}
	return data, nil
}
