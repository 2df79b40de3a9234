// CLI entry point for MedPlan-Intelligence.
package main

import (
	"os"

	"github.com/turtacn/MedPlan-Intelligence/internal/interfaces/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
