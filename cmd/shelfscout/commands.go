package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/shelfscout/backend/config"
	httpDelivery "github.com/shelfscout/backend/internal/delivery/http"
	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

type exitError struct {
	Code    int
	Message string
}

// run builds the command tree and maps failures to exit codes
func run(ctx context.Context, argv []string) *exitError {
	cmd := &cli.Command{
		Name:  "shelfscout",
		Usage: "Compare a grocery basket across supermarkets and track price history",
		Commands: []*cli.Command{
			runCommand(),
			serveCommand(),
			historyCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		code := 1
		if errors.Is(err, domain.ErrConfiguration) {
			code = 2
		}
		return &exitError{Code: code, Message: err.Error()}
	}
	return nil
}

// globalFlags override the loaded configuration for one invocation
type globalFlags struct {
	basket   string
	logLevel string
	logFile  string
	debug    bool
}

func (g *globalFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "basket",
			Aliases:     []string{"b"},
			Usage:       "Path to the basket CSV",
			Destination: &g.basket,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Destination: &g.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "Also write logs to this rotated file",
			Destination: &g.logFile,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "Log every matching decision",
			Destination: &g.debug,
		},
	}
}

func (g *globalFlags) apply(cfg *config.Config) {
	if g == nil {
		return
	}
	if g.basket != "" {
		cfg.Basket.Path = g.basket
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFile != "" {
		cfg.Log.File = g.logFile
	}
	if g.debug {
		cfg.Matching.Debug = true
		cfg.Log.Level = "debug"
	}
}

func runCommand() *cli.Command {
	var (
		global  globalFlags
		asJSON  bool
		noBatch bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the full run report as JSON",
			Destination: &asJSON,
		},
		&cli.BoolFlag{
			Name:        "no-batch",
			Usage:       "Process the whole basket as a single batch",
			Destination: &noBatch,
		},
	}
	flags = append(flags, global.flags()...)

	return &cli.Command{
		Name:  "run",
		Usage: "Price the basket once and print the recommendations",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(&global)
			if err != nil {
				return err
			}
			defer a.Close()

			if noBatch {
				a.cfg.Batch.Enabled = false
			}

			svc, err := a.runService(ctx)
			if err != nil {
				return err
			}

			report, runErr := svc.Run(ctx)
			if report == nil {
				return runErr
			}

			if asJSON {
				enc := json.NewEncoder(c.Root().Writer)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return goerr.Wrap(err, "failed to encode report")
				}
			} else {
				printReport(c.Root().Writer, report)
			}
			return runErr
		},
	}
}

func serveCommand() *cli.Command {
	var (
		global globalFlags
		port   string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "port",
			Aliases:     []string{"p"},
			Usage:       "Listen port for the status API",
			Destination: &port,
		},
	}
	flags = append(flags, global.flags()...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the status API and trigger runs over HTTP",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(&global)
			if err != nil {
				return err
			}
			defer a.Close()

			if port != "" {
				a.cfg.Server.Port = port
			}

			svc, err := a.runService(ctx)
			if err != nil {
				return err
			}

			router := httpDelivery.SetupRouter(a.cfg, httpDelivery.NewHandler(ctx, svc))
			return serve(ctx, &http.Server{
				Addr:              ":" + a.cfg.Server.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}, a.cfg.Server.Environment)
		},
	}
}

// serve runs srv until ctx is cancelled, then drains in-flight requests
func serve(ctx context.Context, srv *http.Server, environment string) error {
	logger := logging.Default()
	logger.Info("[SERVER] listening", "addr", srv.Addr, "environment", environment)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("[SERVER] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shut down status API")
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return goerr.Wrap(err, "status API stopped", goerr.V("addr", srv.Addr))
	}
}

func historyCommand() *cli.Command {
	var (
		global    globalFlags
		product   string
		priceType string
		retailer  string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "product",
			Usage:       "Product name as written in the basket",
			Destination: &product,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "type",
			Usage:       "Price type (regular or membership)",
			Value:       string(domain.PriceRegular),
			Destination: &priceType,
		},
		&cli.StringFlag{
			Name:        "retailer",
			Aliases:     []string{"r"},
			Usage:       "Restrict the search to one retailer",
			Destination: &retailer,
		},
	}
	flags = append(flags, global.flags()...)

	return &cli.Command{
		Name:  "history",
		Usage: "Query the price archive",
		Commands: []*cli.Command{
			{
				Name:  "lowest",
				Usage: "Show the lowest price ever recorded for a product",
				Flags: flags,
				Action: func(ctx context.Context, c *cli.Command) error {
					t, ok := domain.ParsePriceType(priceType)
					if !ok {
						return goerr.Wrap(domain.ErrInvalidRequest, "type must be regular or membership", goerr.V("type", priceType))
					}

					a, err := newApp(&global)
					if err != nil {
						return err
					}
					defer a.Close()

					svc, err := a.historyService()
					if err != nil {
						return err
					}

					low, found, err := svc.LowestEver(ctx, product, t, retailer)
					if err != nil {
						return err
					}
					printLowest(c.Root().Writer, product, t, low, found)
					return nil
				},
			},
		},
	}
}
