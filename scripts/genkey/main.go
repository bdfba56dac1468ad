// genkey mints a Kanshi agent API key offline, for manual provisioning when
// the registration endpoint is unavailable (e.g. seeding a fresh environment
// from SQL).
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go <agent_name>
//
// Prints the raw key (store it with the agent operator — it is shown exactly
// once), the SHA-256 hash for platform.agents.api_key_hash, and the display
// prefix for platform.agents.api_key_prefix.
package main

import (
	"fmt"
	"os"

	"github.com/tessen-ai/kanshi/internal/auth"
	"github.com/tessen-ai/kanshi/internal/model"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: genkey <agent_name>")
		os.Exit(2)
	}
	name := os.Args[1]
	if err := model.ValidateAgentName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	raw, hash, prefix, err := auth.GenerateAPIKey(model.NormalizeAgentName(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("api_key:        %s\n", raw)
	fmt.Printf("api_key_hash:   %s\n", hash)
	fmt.Printf("api_key_prefix: %s\n", prefix)
}
