// Command login authenticates against the merchant backend and persists the
// resulting session so the portal starts logged in.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/newedge/merchant-portal/config"
	"github.com/newedge/merchant-portal/internal/localstore"
	"github.com/newedge/merchant-portal/internal/portal"
	"github.com/newedge/merchant-portal/internal/session"
	"github.com/newedge/merchant-portal/internal/shell"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	email := flag.String("email", "", "login with this email")
	phone := flag.String("phone", "", "login with this phone number (digits, +975 is added)")
	remember := flag.Bool("remember", false, "cache the credentials in PLAINTEXT local storage")
	flag.Parse()

	if (*email == "") == (*phone == "") {
		log.Fatal().Msg("exactly one of -email or -phone is required")
	}

	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	kv, err := localstore.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local store")
	}
	defer kv.Close()

	fmt.Fprint(os.Stderr, "password: ")
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read password")
	}
	password = strings.TrimRight(password, "\r\n")

	client := portal.NewClient(portal.ClientOpts{
		BaseURL:       cfg.APIBaseURL,
		LoginEmailURL: cfg.LoginEmailEndpoint,
		LoginPhoneURL: cfg.LoginPhoneEndpoint,
	})

	ctx := context.Background()
	var payload json.RawMessage
	if *email != "" {
		payload, err = client.LoginEmail(ctx, *email, password)
	} else {
		payload, err = client.LoginPhone(ctx, *phone, password)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("login failed")
	}

	store := session.NewStore(kv)
	if _, err := store.Save(payload); err != nil {
		log.Fatal().Err(err).Msg("failed to persist session")
	}
	if store.Load() == nil {
		log.Fatal().Msg("login response carried no usable access token")
	}

	if *remember {
		r := shell.RememberedLogin{Remember: true, Password: password}
		if *email != "" {
			r.Tab = "email"
			r.Email = *email
		} else {
			r.Tab = "phone"
			r.PhoneDigits = *phone
		}
		if err := shell.SaveRemembered(kv, r); err != nil {
			log.Fatal().Err(err).Msg("failed to cache credentials")
		}
		log.Warn().Msg("credentials cached in plaintext local storage")
	}

	log.Info().Str("dbPath", cfg.DBPath).Msg("logged in, session saved")
}
