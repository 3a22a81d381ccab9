// Command credctl administers a credential core database directly: keys,
// sessions, owners and the hygiene sweep.
package main

import "github.com/turtacn/credcore/cmd/cli"

func main() {
	cli.Execute()
}
