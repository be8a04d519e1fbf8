package main

import "warden/internal/cli"

func main() {
	cli.Execute()
}
