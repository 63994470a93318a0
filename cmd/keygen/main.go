// Command keygen mints an API key directly in the gateway's key store,
// bypassing the HTTP admin surface. Useful for provisioning the first key
// on a fresh deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/personaplex/voicegate/internal/config"
	"github.com/personaplex/voicegate/internal/keys"
)

func main() {
	name := flag.String("name", "", "human-readable key name (required)")
	description := flag.String("description", "", "optional key description")
	rpm := flag.Int("rpm", 0, "per-key rate limit override (0 = use gateway default)")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: keygen -name <name> [-description <text>] [-rpm <n>]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	store, err := keys.OpenStore(cfg.Storage.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open key store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	registry := keys.NewRegistry(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	plaintext, rec, err := registry.Issue(context.Background(), *name, *description, *rpm)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("ID:   %s\n", rec.ID)
	fmt.Printf("Name: %s\n", rec.Name)
	fmt.Printf("Key:  %s\n", plaintext)
	fmt.Println("\nThe plaintext key is shown only once; store it now.")
}
