package main

import "autohodl/internal/cli"

func main() {
	cli.Execute()
}
