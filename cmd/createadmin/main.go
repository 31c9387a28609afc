// Command createadmin creates a staff account, the only way to get one.
//
// USAGE:
//
//	createadmin -username admin -email admin@example.com
//
// The password comes from -password or, to keep it out of shell history,
// from ADMIN_PASSWORD. The same configuration as the server (.env plus the
// environment) decides which database is written.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/sakif/accounts/internal/apperror"
	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/config"
	"github.com/sakif/accounts/internal/logger"
	"github.com/sakif/accounts/internal/server"
	"github.com/sakif/accounts/internal/service"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "createadmin:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("createadmin", flag.ContinueOnError)
	username := fs.String("username", "", "admin username (required)")
	email := fs.String("email", "", "admin email")
	password := fs.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password (default $ADMIN_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	store, err := server.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	authService := service.NewAuthService(
		store,
		service.NewTokenRegistry(store, nil, log),
		auth.NewPasswordService(cfg.BcryptCost),
		auth.DefaultPolicy(cfg.PasswordMinLength),
		log,
	)

	user, err := authService.CreateAdmin(ctx, service.RegisterInput{
		Username:  *username,
		Password:  *password,
		Password2: *password,
		Email:     *email,
	})
	if err != nil {
		return describe(err)
	}

	fmt.Printf("created admin %q (id %d)\n", user.Username, user.ID)
	return nil
}

// describe flattens field errors into one readable line per field.
func describe(err error) error {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || len(appErr.Fields) == 0 {
		return err
	}

	names := make([]string, 0, len(appErr.Fields))
	for name := range appErr.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	msg := appErr.Message
	for _, name := range names {
		for _, m := range appErr.Fields[name] {
			msg += fmt.Sprintf("\n  %s: %s", name, m)
		}
	}
	return errors.New(msg)
}
