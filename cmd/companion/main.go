package main

import (
	"os"

	"github.com/danielpatrickdp/companion-kernel/internal/cli"
)

// #region main
func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
// #endregion main
