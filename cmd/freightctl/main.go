package main

import "freight-procurement/internal/cli"

func main() {
	cli.Execute()
}
