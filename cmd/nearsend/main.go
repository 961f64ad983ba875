package main

import (
	"os"

	"github.com/nearsend/nearsend/internal/cli"
)

func main() {
	os.Exit(cli.Execute(cli.NewRootCommand()))
}
