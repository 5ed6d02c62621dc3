package main

import (
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bcdannyboy/SharepointAudit/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
