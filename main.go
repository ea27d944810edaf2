package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"cctp-bridge/cmd"
)

func main() {
	// .env is optional; keys may come from the environment or .cctp-bridge.yaml
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		os.Exit(1)
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
