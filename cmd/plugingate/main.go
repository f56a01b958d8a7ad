package main

import "github.com/ideamans/plugingate/cmd/plugingate/cmd"

func main() {
	cmd.Execute()
}
