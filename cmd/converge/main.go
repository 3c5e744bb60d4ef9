package main

import "github.com/converge-sh/converge/internal/cli"

func main() {
	cli.Execute()
}
