// The main package for the specwatch executable.
package main

import (
	"github.com/spectrail/specwatch/cmd"
)

func main() {
	cmd.Execute()
}
