// Package main is the entry point for vermuda.
package main

import (
	"os"
	"runtime"

	"github.com/javanstorm/vermuda/internal/cli"
)

// The privileged loop or the window runs on the main goroutine, which must
// stay on the process's first thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	os.Exit(cli.Execute())
}
