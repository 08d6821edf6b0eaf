package main

import "github.com/jmcleod/sessionkeeper/cmd/sessionkeeper/cmd"

func main() {
	cmd.Execute()
}
