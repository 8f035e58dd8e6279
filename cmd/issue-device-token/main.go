package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/SiteMedic/SM-Backend/internal/auth"
	"github.com/SiteMedic/SM-Backend/internal/db"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env.local")

	var (
		medicID = flag.String("medic", "", "medic id the token authenticates (required)")
		label   = flag.String("label", "", "free-form device label, e.g. phone model")
		ttl     = flag.Duration("ttl", 0, "token lifetime, 0 = never expires")
		dsn     = flag.String("db", os.Getenv("DATABASE_URL"), "DATABASE_URL")
	)
	flag.Parse()

	if *medicID == "" {
		flag.Usage()
		os.Exit(2)
	}

	db.Connect(*dsn)
	auth.Init()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tok, bearer, err := auth.NewIssuer(db.DB).Issue(ctx, *medicID, *label, *ttl)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("token id: %s\n", tok.TokenID)
	if tok.ExpiresAt != nil {
		fmt.Printf("expires:  %s\n", tok.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("bearer:   %s\n", bearer)
	fmt.Println("Store the bearer on the device now; it cannot be shown again.")
}
