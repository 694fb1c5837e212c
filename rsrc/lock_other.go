//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd || windows)

package rsrc

import "os"

// No advisory locking on this platform; sessions still detect concurrent
// modification at commit time.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }
