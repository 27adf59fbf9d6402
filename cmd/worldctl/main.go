// Command worldctl manages 3000World role-play worlds from the terminal.
package main

import "github.com/34892002/3000World/internal/cli"

func main() {
	cli.Execute()
}
