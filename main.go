// Command registry-crawler serves the registry search API and runs one-off
// searches from the command line.
package main

import "github.com/JakeFAU/registry-crawler/cmd"

func main() {
	cmd.Execute()
}
