// Command eventing-admin operates an eventing broker database: it applies the
// schema, manages topics and subscriptions, publishes test events, reports
// ledger statistics and runs the janitor.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/coregx/eventing/cmd/eventing-admin/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
