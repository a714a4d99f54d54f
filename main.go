// Command todosync manages tasks and projects offline and syncs them with a
// REST server.
package main

import (
	"errors"
	"os"
)

// exitConflicts is returned when a sync finished but left conflicts for the
// user to resolve.
const exitConflicts = 2

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errConflictsRemain) {
			os.Exit(exitConflicts)
		}

		exitOnError(err)
	}
}
