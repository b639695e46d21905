// credex-gate is a shell gate for the credex ledger: it reserves budget for
// an action before it runs and settles it afterwards. The exit code carries
// the admission decision so hooks can gate on it directly: 0 approved,
// 2 insufficient balance, 1 operational error.
package main

import (
	"errors"
	"fmt"
	"os"

	credex "github.com/kailas-cloud/credex"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, credex.ErrInsufficientBalance) {
			fmt.Fprintln(os.Stderr, "denied:", err)
			os.Exit(2)
		}
		os.Exit(1)
	}
}
