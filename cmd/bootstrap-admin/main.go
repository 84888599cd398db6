// Command bootstrap-admin creates the first admin account. Signup always
// assigns the user role, so admins are provisioned out of band.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/pflag"

	"github.com/lilofinance/usermanager/internal/auth"
	"github.com/lilofinance/usermanager/internal/model"
	"github.com/lilofinance/usermanager/internal/repository"
)

type output struct {
	UserID  string     `json:"user_id"`
	Email   string     `json:"email"`
	Role    model.Role `json:"role"`
	Created bool       `json:"created"`
}

type input struct {
	Email    string
	Password string
	FullName string
}

type adminStore interface {
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
}

type options struct {
	DatabaseURL    string
	Email          string
	FullName       string
	PasswordScheme string
	Migrate        bool
	Format         string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	opts := options{}

	flagSet := pflag.NewFlagSet("bootstrap-admin", pflag.ContinueOnError)
	flagSet.StringVar(&opts.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	flagSet.StringVar(&opts.Email, "email", os.Getenv("ADMIN_EMAIL"), "admin email")
	flagSet.StringVar(&opts.FullName, "full-name", "Administrator", "admin full name")
	flagSet.StringVar(&opts.PasswordScheme, "password-scheme", envOr("PASSWORD_SCHEME", "bcrypt"), "password scheme: bcrypt or argon2id")
	flagSet.BoolVar(&opts.Migrate, "migrate", false, "apply migrations before creating the account")
	flagSet.StringVarP(&opts.Format, "format", "o", "plain", "output format: plain or json")

	if err := flagSet.Parse(args); err != nil {
		return options{}, err
	}
	if opts.DatabaseURL == "" {
		return options{}, errors.New("DATABASE_URL is required")
	}
	return opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	// The password comes from the environment only, never from a flag.
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		return errors.New("ADMIN_PASSWORD is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if opts.Migrate {
		if err := repository.Migrate(ctx, opts.DatabaseURL); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	repo, err := repository.New(ctx, opts.DatabaseURL, repository.PoolOptions{MaxConns: 2, MinConns: 1})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer repo.Close()

	hasher, err := auth.NewHasher(opts.PasswordScheme, auth.DefaultBcryptCost)
	if err != nil {
		return err
	}

	out, err := ensureAdmin(ctx, repo, hasher, input{Email: opts.Email, Password: password, FullName: opts.FullName})
	if err != nil {
		return err
	}

	return writeOutput(os.Stdout, opts.Format, out)
}

// ensureAdmin creates the admin account, or returns the existing one when
// the email already belongs to an admin.
func ensureAdmin(ctx context.Context, store adminStore, hasher auth.Hasher, in input) (output, error) {
	req := model.CreateUserRequest{Email: in.Email, Password: in.Password, FullName: in.FullName}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return output{}, fmt.Errorf("invalid admin account: %w", err)
	}

	existing, err := store.GetUserByEmail(ctx, req.Email)
	switch {
	case err == nil:
		if existing.Role != model.RoleAdmin {
			return output{}, fmt.Errorf("email %s already used by non-admin user %s", req.Email, existing.ID)
		}
		return output{UserID: existing.ID, Email: existing.Email, Role: existing.Role}, nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return output{}, fmt.Errorf("look up user: %w", err)
	}

	hash, err := hasher.Hash(req.Password)
	if err != nil {
		return output{}, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		ID:           ulid.Make().String(),
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		Role:         model.RoleAdmin,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		return output{}, fmt.Errorf("create user: %w", err)
	}

	return output{UserID: user.ID, Email: user.Email, Role: user.Role, Created: true}, nil
}

func writeOutput(w io.Writer, format string, out output) error {
	switch strings.ToLower(format) {
	case "plain":
		_, err := fmt.Fprintln(w, out.UserID)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		return errors.New("invalid format; use plain or json")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
