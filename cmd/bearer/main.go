package main

import (
	"github.com/awnumar/memguard"

	"github.com/jmcleod/bearer/cmd/bearer/cmd"
)

func main() {
	memguard.CatchInterrupt()
	defer memguard.Purge()

	cmd.Execute()
}
