// Command liftsync keeps a local workout database in sync with a remote row
// store.
package main

import (
	"context"
	"os"

	"github.com/roach88/liftsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
