package main

import "github.com/ppiankov/incognito/internal/cli"

func main() {
	cli.Execute()
}
