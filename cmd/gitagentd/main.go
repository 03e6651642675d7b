// Command gitagentd turns GitHub push events into supervised agent processes.
//
// Usage:
//
//	gitagentd serve [--config gitagent.yaml] [--addr :3005]
//	gitagentd reconcile
//	gitagentd hash <repo-url> <branch>
//	gitagentd genkey
//	gitagentd version
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
