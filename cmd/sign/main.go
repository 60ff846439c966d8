package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/eldtechnologies/roomcast/internal/auth"
	"github.com/eldtechnologies/roomcast/internal/models"
)

func main() {
	_ = godotenv.Load()

	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "HS256 signing secret (defaults to $JWT_SECRET)")
	userID := flag.String("user", "", "User UUID (random if empty)")
	username := flag.String("name", "", "Username")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if *secret == "" || *username == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -name <username> [-user <uuid>] [-ttl 24h] [-secret <secret>]")
		fmt.Fprintln(os.Stderr, "  Reads the secret from JWT_SECRET if -secret not specified")
		os.Exit(1)
	}

	id := uuid.New()
	if *userID != "" {
		var err error
		id, err = uuid.Parse(*userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid user ID: %v\n", err)
			os.Exit(1)
		}
	}

	token, err := auth.NewJWTVerifier(*secret).Issue(models.Principal{ID: id, Username: *username}, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	// Output headers
	fmt.Printf("User: %s\n", id)
	fmt.Printf("Authorization: Bearer %s\n", token)
}
