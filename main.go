package main

import "github.com/wormhole-demo/bridge-relay/cmd"

func main() {
	cmd.Execute()
}
