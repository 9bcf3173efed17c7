// The main package for the mediafetch executable.
package main

import (
	"github.com/JakeFAU/mediafetch/cmd"
)

func main() {
	cmd.Execute()
}
