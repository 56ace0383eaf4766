package main

import "github.com/relaygate/relaygate/cmd/relaygate/cmd"

func main() {
	cmd.Execute()
}
