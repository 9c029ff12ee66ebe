// Command issue-token prints a signed access token for a user, for local
// testing of the chat gateway.
package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/config"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/jwt"
	pkglog "github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
)

func main() {
	var (
		userID     = flag.StringP("user", "u", "", "user id to put in the token subject (required)")
		username   = flag.StringP("name", "n", "", "username claim")
		configPath = flag.StringP("config", "c", "", "path to config file (default ./config/config.yaml)")
		ttl        = flag.Duration("ttl", 0, "token lifetime (default jwt.access_duration)")
	)
	flag.Parse()

	l := pkglog.L()
	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to load config")
	}

	lifetime := cfg.JWT.AccessDuration
	if *ttl > 0 {
		lifetime = *ttl
	}

	tokens, err := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, lifetime)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to create token manager")
	}

	token, expiresAt, err := tokens.GenerateAccessToken(*userID, *username)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to sign token")
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
}
