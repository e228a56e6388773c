// Command marketedge-login performs an interactive device-style login
// against the MarketEdge auth backend and persists the resulting session
// atomically. It prints the authorization URL, waits for the pasted
// redirect, and completes the exchange.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/exchange"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/login"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/slot"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/storage"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/storage/mem"
	"github.com/zebra-devops/MarketEdge-Platform-sub014/storage/sqlite"
	"golang.org/x/oauth2"
)

type config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	ProviderURL  string   `env:"OIDC_PROVIDER_URL"`
	ClientID     string   `env:"OAUTH_CLIENT_ID"`
	ClientSecret string   `env:"OAUTH_CLIENT_SECRET"`
	RedirectURL  string   `env:"OAUTH_REDIRECT_URL"`
	AuthURL      string   `env:"OAUTH_AUTH_URL"`
	TokenURL     string   `env:"OAUTH_TOKEN_URL"`
	Scopes       []string `env:"OAUTH_SCOPES" envSeparator:","`

	StorePath  string        `env:"AUTH_STORE_PATH"`
	AttemptTTL time.Duration `env:"LOGIN_ATTEMPT_TTL" envDefault:"5m"`
	AtomicAuth bool          `env:"ATOMIC_AUTH_ENABLED" envDefault:"true"`
}

func run() (runErr error) {
	cfg := config{}
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("could not parse environment: %w", err)
	}

	flStatus := flag.Bool("status", false, "print the current session and exit")
	flLogout := flag.Bool("logout", false, "clear the stored session and exit")
	flag.Parse()

	lvl := new(slog.Level)
	if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("could not parse log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	defer func() {
		if runErr != nil {
			logger.Error("login failed", "error", runErr.Error())
		}
	}()

	var backend storage.Backend
	if cfg.StorePath == "" {
		logger.Info("using in-memory auth storage")
		backend = mem.New()
	} else {
		b, err := sqlite.New(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("could not open auth storage: %w", err)
		}
		defer b.Close()
		backend = b
	}
	authSlot := slot.New(backend, slot.WithLogger(logger.With("svc", "slot")))

	if *flStatus {
		st, err := authSlot.Load()
		if err != nil {
			return err
		}
		if st == nil {
			fmt.Println("no session")
			return nil
		}
		fmt.Printf("%s <%s> @ %s (%s), expires %s\n",
			st.User.Name, st.User.Email, st.Tenant.Name, st.User.Role, st.ExpiresAt.Format(time.RFC3339))
		return nil
	}
	if *flLogout {
		return authSlot.Clear()
	}

	if cfg.ClientID == "" || cfg.RedirectURL == "" {
		return errors.New("OAUTH_CLIENT_ID and OAUTH_REDIRECT_URL are required")
	}
	if cfg.ProviderURL == "" && (cfg.AuthURL == "" || cfg.TokenURL == "") {
		return errors.New("either OIDC_PROVIDER_URL or OAUTH_AUTH_URL and OAUTH_TOKEN_URL are required")
	}

	exOpts := []exchange.Option{exchange.WithLogger(logger.With("svc", "exchange"))}
	if cfg.ProviderURL != "" {
		exOpts = append(exOpts, exchange.WithProvider(context.Background(), cfg.ProviderURL))
	}
	ex, err := exchange.New(&oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
	}, exOpts...)
	if err != nil {
		return fmt.Errorf("could not create exchanger: %w", err)
	}

	orch, err := login.New(ex, authSlot,
		login.WithLogger(logger.With("svc", "login")),
		login.WithAttemptTTL(cfg.AttemptTTL),
		login.WithGate(func() bool { return cfg.AtomicAuth }),
	)
	if err != nil {
		return fmt.Errorf("could not create orchestrator: %w", err)
	}

	authURL, err := orch.Begin()
	if err != nil {
		return err
	}

	fmt.Println("Open this URL in your browser and sign in:")
	fmt.Println("  " + authURL)
	fmt.Print("Paste the URL you were redirected to: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("could not read redirect URL: %w", err)
	}
	redirect, err := url.Parse(strings.TrimSpace(line))
	if err != nil {
		return fmt.Errorf("could not parse redirect URL: %w", err)
	}
	state := redirect.Query().Get("state")
	code := redirect.Query().Get("code")
	if state == "" || code == "" {
		return errors.New("redirect URL is missing state or code")
	}

	st, err := orch.Complete(context.Background(), state, code)
	if err != nil {
		return err
	}

	fmt.Printf("Logged in as %s <%s> @ %s, session expires %s\n",
		st.User.Name, st.User.Email, st.Tenant.Name, st.ExpiresAt.Format(time.RFC3339))
	return nil
}

func main() {
	if run() != nil {
		os.Exit(1)
	}
}
