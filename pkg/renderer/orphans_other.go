//go:build !linux

package renderer

// ReapOrphans is a no-op outside Linux; there is no /proc to scan. The
// graceful close path plus Kill() covers the direct child either way.
func ReapOrphans(profileDir string) ([]int, error) {
	return nil, nil
}
