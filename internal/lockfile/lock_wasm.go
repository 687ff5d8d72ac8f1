//go:build js && wasm

package lockfile

import "os"

// WASM is single-process; locking is a no-op.
func flockExclusive(f *os.File) error { return nil }

func flockUnlock(f *os.File) error { return nil }
