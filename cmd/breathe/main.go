package main

import "zenbreath/internal/cli"

func main() {
	cli.Execute()
}
