package main

import "fmt"

// Version is the release version, overridable at build time via
// -ldflags "-X main.Version=...".
var Version = "0.4.1"

func printVersion() {
	fmt.Printf("cursor-relay v%s\n", Version)
}
