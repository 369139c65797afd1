package renderer

import "bytes"

// matchesCmdline reports whether a /proc cmdline (NUL-separated argv)
// carries the exact --user-data-dir argument for profileDir. The match is
// on the whole argument, never a substring, so sibling profiles like
// "/profiles/dev-1" and "/profiles/dev-10" cannot shadow each other.
func matchesCmdline(cmdline []byte, profileDir string) bool {
	want := "--user-data-dir=" + profileDir
	for _, arg := range bytes.Split(cmdline, []byte{0}) {
		if string(arg) == want {
			return true
		}
	}
	return false
}
