// devtoken emite tokens HS256 para probar la API con AUTH_MODE=hmac.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"account-api/internal/domain"
	"account-api/internal/service"
)

func main() {
	_ = godotenv.Load()

	externalID := flag.String("id", "", "external id of the user (user_id claim)")
	email := flag.String("email", "", "email claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	secret := flag.String("secret", os.Getenv("AUTH_HMAC_SECRET"), "shared HMAC secret")
	issuer := flag.String("issuer", envOr("AUTH_HMAC_ISSUER", "account-api"), "issuer expected by the API")
	flag.Parse()

	if *secret == "" {
		log.Fatal("AUTH_HMAC_SECRET or -secret is required")
	}

	verifier := service.NewHMACIdentityVerifier(*secret, *issuer)
	token, err := verifier.Issue(domain.Identity{Email: *email, ExternalID: *externalID}, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
