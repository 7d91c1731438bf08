package main // Entry point package

import (
	"fmt"
	"os"

	"github.com/iliyamo/hub-lending/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hublend:", err)
		os.Exit(1)
	}
}
