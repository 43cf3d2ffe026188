package cmd

import "fmt"

func init() {
	RegisterCommand(&Command{
		Name:  "version",
		Short: "Show version information",
		Long:  `Print the Current CLI version and build time.`,
		Usage: "current version",
		Run:   runVersion,
	})
}

func runVersion(args []string) error {
	fmt.Printf("Current CLI version %s (built %s)\n", Version, BuildTime)
	return nil
}
