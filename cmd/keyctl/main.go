package main

import "github.com/turtacn/keyguard/cmd/cli"

func main() {
	cli.Execute()
}
