// Command devtoken mints a bearer token for local testing of the API.
//
//	JWT_SECRET=dev go run ./cmd/devtoken -sub u1 -role ADMIN
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/cohort-pools/internal/config"
	"github.com/iliyamo/cohort-pools/internal/utils"
)

type env struct {
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`
}

func main() {
	sub := flag.String("sub", "", "subject (user id)")
	role := flag.String("role", "USER", "role claim: USER or ADMIN")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	var e env
	if err := config.ParseEnv(&e); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	tok, err := utils.NewAccessToken(e.JWTSecret, *sub, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
