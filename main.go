// ./main.go
package main

import (
	"github.com/xkilldash9x/tracecheck/cmd"
)

// main is the entry point for the tracecheck CLI.
func main() {
	cmd.Execute()
}
