package main

import (
	"fmt"
	"os"

	"github.com/asheshgoplani/cursor-relay/internal/config"
)

func handleConfig(args []string) {
	usage := func() {
		fmt.Println("Usage: cursor-relay config <subcommand>")
		fmt.Println()
		fmt.Println("Subcommands:")
		fmt.Println("  init    Write a commented example config if none exists")
		fmt.Println("  path    Print the config file location")
	}

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	switch args[0] {
	case "init":
		configPath, err := config.GetUserConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Config already exists at %s\n", configPath)
			return
		}
		if err := config.CreateExampleConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created %s\n", configPath)
		fmt.Println("Edit it and restart the daemon to apply changes.")
	case "path":
		configPath, err := config.GetUserConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(configPath)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n\n", args[0])
		usage()
		os.Exit(1)
	}
}
