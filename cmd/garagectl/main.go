package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/spec-kit/garage-core/internal/client"
	"github.com/spec-kit/garage-core/internal/config"
	"github.com/spec-kit/garage-core/internal/core"
	"github.com/spec-kit/garage-core/internal/observability"
	"github.com/spec-kit/garage-core/internal/session"
)

func main() {
	cmd := flag.String("cmd", "whoami", "Command: login|register|logout|restore|whoami|profile|get|upload|cleanup")
	email := flag.String("email", "", "Account email (login/register)")
	password := flag.String("password", "", "Account password (login/register)")
	name := flag.String("name", "", "Display name (register/profile)")
	phone := flag.String("phone", "", "Phone number (register/profile)")
	path := flag.String("path", "", "Endpoint path (get/upload)")
	file := flag.String("file", "", "File to send (upload)")
	serverFlag := flag.String("server", "", "Override API base URL")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *serverFlag != "" {
		cfg.Client.BaseURL = strings.TrimRight(*serverFlag, "/")
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := core.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build core", zap.Error(err))
	}
	defer c.Close()

	switch *cmd {
	case "login":
		err = run(ctx, c, func() error {
			return c.Session.Login(ctx, session.Credentials{Email: *email, Password: *password})
		})
	case "register":
		err = run(ctx, c, func() error {
			return c.Session.Register(ctx, session.Registration{
				Name:     *name,
				Email:    *email,
				Password: *password,
				Phone:    *phone,
			})
		})
	case "logout":
		err = run(ctx, c, func() error { return c.Session.Logout(ctx) })
	case "restore", "whoami":
		err = run(ctx, c, func() error { return nil })
	case "profile":
		patch := map[string]any{}
		if *name != "" {
			patch["name"] = *name
		}
		if *phone != "" {
			patch["phone"] = *phone
		}
		err = run(ctx, c, func() error {
			if len(patch) == 0 {
				return c.Session.RefreshProfile(ctx)
			}
			return c.Session.UpdateProfile(ctx, patch)
		})
	case "get":
		if *path == "" {
			fmt.Println("--path required")
			os.Exit(1)
		}
		err = get(ctx, c, *path)
	case "upload":
		if *path == "" || *file == "" {
			fmt.Println("--path and --file required")
			os.Exit(1)
		}
		err = upload(ctx, c, *path, *file)
	case "cleanup":
		removed := c.Cleanup.SweepOnce(ctx)
		fmt.Printf("removed %d expired entries\n", removed)
	default:
		fmt.Println("Unknown command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

// run restores the persisted session, applies op and prints the resulting state.
func run(ctx context.Context, c *core.Core, op func() error) error {
	if err := c.Session.Restore(ctx); err != nil && !errors.Is(err, session.ErrSuperseded) {
		return err
	}
	opErr := op()
	if err := printJSON(sessionView(c.Session.Session())); err != nil {
		return err
	}
	return opErr
}

func get(ctx context.Context, c *core.Core, path string) error {
	resp, err := c.Client.Get(ctx, path, nil)
	if err != nil {
		return err
	}
	if resp.IsJSON() {
		return printJSON(resp.Value())
	}
	fmt.Println(resp.Text())
	return nil
}

func upload(ctx context.Context, c *core.Core, path, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	resp, err := c.Client.UploadFile(ctx, path, client.File{Name: filepath.Base(filename), Content: f}, nil)
	if err != nil {
		return err
	}
	return printJSON(resp.Value())
}

type view struct {
	State           session.State `json:"state"`
	IsAuthenticated bool          `json:"isAuthenticated"`
	User            any           `json:"user,omitempty"`
	Error           string        `json:"error,omitempty"`
}

func sessionView(s session.Session) view {
	v := view{State: s.State, IsAuthenticated: s.IsAuthenticated, Error: s.Error}
	if s.User != nil {
		v.User = s.User
	}
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
