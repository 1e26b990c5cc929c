// Command rtoskernel is the demo/operator entry point for the hosted
// simulation kernel: it boots a kernel instance from a board profile and
// either runs it under a live tick pump or drives one of the end-to-end
// scenarios to completion, printing the observed schedule.
package main

import (
	"os"

	"github.com/OSH-2025/rtkernel/cmd/rtoskernel/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
