package main

import (
	"context"
	"os"

	"github.com/enverbisevac/leaselock/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
}
