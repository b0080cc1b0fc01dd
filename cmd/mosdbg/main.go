package main

import (
	"fmt"
	"os"

	"github.com/llvm-mos/mosdbg/cmd/mosdbg/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
