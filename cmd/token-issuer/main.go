// Command token-issuer prints a bearer token for the Assay API, signed with
// the configured auth.jwt_secret. The subject becomes the owner of every
// token submitted with it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/phrazzld/assay-api/internal/api/middleware"
	"github.com/phrazzld/assay-api/internal/config"
)

func main() {
	subject := flag.String("subject", "", "owner id to embed as the token subject")
	lifetime := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: token-issuer -subject <owner-id> [-ttl 1h]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	auth, err := middleware.NewAuthenticator(cfg.Auth)
	if err != nil {
		log.Fatalf("auth is not configured: %v", err)
	}

	token, err := auth.IssueToken(*subject, *lifetime)
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}
	fmt.Println(token)
}
