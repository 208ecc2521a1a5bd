package main

import "github.com/dkeye/Pulse/cmd/server/cmd"

func main() {
	cmd.Execute()
}
