package main

import "spacewatch/internal/cli"

func main() {
	cli.Execute()
}
