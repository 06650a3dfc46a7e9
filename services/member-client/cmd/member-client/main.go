package main

import (
	"context"
	"os"

	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
