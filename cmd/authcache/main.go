// Command authcache inspects and maintains the per-worker session cache.
//
//	authcache [-config file] list
//	authcache [-config file] clear [-match glob]
//	authcache [-config file] warm [-workers n]
//	authcache [-config file] path -worker i
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/entrhq/authharness/pkg/bootstrap"
	"github.com/entrhq/authharness/pkg/browser"
	"github.com/entrhq/authharness/pkg/config"
	"github.com/entrhq/authharness/pkg/identity"
	"github.com/entrhq/authharness/pkg/lifecycle"
	"github.com/entrhq/authharness/pkg/logging"
	"github.com/entrhq/authharness/pkg/sessioncache"
)

const usage = `Usage: authcache [-config file] <command> [flags]

Commands:
  list                 list cached session keys
  clear [-match glob]  remove cached sessions (all when no pattern is given)
  warm [-workers n]    log in every worker identity without a cached session
  path -worker i       print the session file of worker i`

// openDriver starts the browser for warm.
var openDriver lifecycle.DriverOpener = browser.Open

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type app struct {
	cfg    *config.Config
	store  *sessioncache.Store
	logger *logging.Logger
	stdout io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("authcache", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprintln(stderr, usage) }
	configFile := fs.String("config", "", "Path to harness configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logging.SetDirectory(cfg.LogDir)
	logger := logging.MustLogger("authcache")
	defer logger.Close()

	a := &app{
		cfg:    cfg,
		store:  sessioncache.NewStore(cfg.AuthDir, logger.With("sessioncache")),
		logger: logger,
		stdout: stdout,
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "list":
		err = a.list()
	case "clear":
		err = a.clear(rest, stderr)
	case "warm":
		err = a.warm(ctx, rest, stderr)
	case "path":
		err = a.path(rest, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fs.Usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		logger.Errorf("%s failed: %v", cmd, err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func (a *app) list() error {
	keys, err := a.store.Keys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Fprintln(a.stdout, key)
	}
	return nil
}

func (a *app) clear(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	fs.SetOutput(stderr)
	match := fs.String("match", "", "Glob of keys to remove")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	removed, err := a.store.Purge(*match)
	for _, key := range removed {
		fmt.Fprintf(a.stdout, "removed %s\n", key)
	}
	return err
}

func (a *app) warm(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("warm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	workers := fs.Int("workers", a.cfg.Workers, "Number of worker identities to log in")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *workers < 1 {
		fmt.Fprintln(stderr, "-workers must be at least 1")
		return errUsage
	}

	var pending []identity.Identity
	for i := 0; i < *workers; i++ {
		id, err := identity.Resolve(a.cfg.UserEmail, i)
		if err != nil {
			return err
		}
		if a.store.Exists(id.CacheKey) {
			fmt.Fprintf(a.stdout, "cached %s\n", id.CacheKey)
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return nil
	}
	if missing := a.cfg.MissingCredentials(); len(missing) > 0 {
		return fmt.Errorf("%w: %s not set", bootstrap.ErrMissingCredentials, strings.Join(missing, ", "))
	}

	driver, err := openDriver(ctx, browser.OptionsFromConfig(a.cfg), a.logger.With("browser"))
	if err != nil {
		return err
	}
	defer driver.Close()

	keys, err := lifecycle.Warm(ctx, a.store, driver, pending, lifecycle.Credentials(a.cfg), nil, a.logger)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Fprintf(a.stdout, "warmed %s\n", key)
	}
	return nil
}

func (a *app) path(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("path", flag.ContinueOnError)
	fs.SetOutput(stderr)
	worker := fs.Int("worker", -1, "Worker index")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *worker < 0 {
		fmt.Fprintln(stderr, "-worker is required")
		return errUsage
	}

	id, err := identity.Resolve(a.cfg.UserEmail, *worker)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, a.store.Path(id.CacheKey))
	return nil
}
