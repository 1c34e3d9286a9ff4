package main

import "github.com/threatvet/threatvet/cmd/cli"

func main() {
	cli.Main()
}
