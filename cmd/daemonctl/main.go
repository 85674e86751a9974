package main

import (
	"context"
	"os"

	"github.com/axondata/go-daemonctl/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stderr))
}
