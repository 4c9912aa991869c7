package main

import "github.com/mcpipe/mcpipe/cmd"

func main() {
	cmd.Execute()
}
