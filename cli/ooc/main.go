// Package main is the CLI command itself.
package main

import (
	"log"
	"os"

	oocli "go.viam.com/ooc/cli"
)

func main() {
	app := oocli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
