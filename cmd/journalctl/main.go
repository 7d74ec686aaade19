// Command journalctl is a small exercising and inspection front-end for the
// journallayer library: it opens a store directory, runs one-shot
// transactions against it, forces a recovery pass, and prints registry and
// generation state. It is not meant to be the primary way the library gets
// used; real callers import journallayer directly.
package main

import (
	"journalstore/cmd/journalctl/cmd"
)

func main() {
	cmd.Execute()
}
