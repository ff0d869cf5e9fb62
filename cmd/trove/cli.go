package main

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/trove/internal/config"
	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/logger"
	"github.com/hpungsan/trove/internal/mcp"
	"github.com/hpungsan/trove/internal/ops"
	"github.com/hpungsan/trove/internal/workflow"
)

// app carries what the commands share. Any field may be nil for --help.
type app struct {
	db      *sql.DB
	cfg     *config.Config
	log     logger.Logger
	runners runnerFactory
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(a *app) *cli.App {
	if a == nil {
		a = &app{}
	}
	if a.log == nil {
		a.log = logger.NewNop()
	}
	cliApp := &cli.App{
		Name:    "trove",
		Usage:   "Capture links and turn them into a classified, filed library",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "User ID (defaults to user_id from config)"},
		},
		Commands: []*cli.Command{
			captureCmd(a),
			processCmd(a),
			fetchCmd(a),
			listCmd(a),
			containersCmd(a),
			workerCmd(a),
			serveCmd(a),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

// userID resolves the --user flag against the configured default.
func (a *app) userID(c *cli.Context) string {
	if u := strings.TrimSpace(c.String("user")); u != "" {
		return u
	}
	if a.cfg != nil {
		return a.cfg.UserID
	}
	return ""
}

// runner builds the workflow, failing when the binary was started without one.
func (a *app) runner(ctx context.Context) (ops.Runner, func(), error) {
	if a.runners == nil {
		return nil, nil, errors.NewInvalidRequest("processing is not configured")
	}
	return a.runners(ctx)
}

// captureCmd creates the capture command.
func captureCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "capture",
		Usage:     "Capture a URL as a pending item",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "process", Aliases: []string{"p"}, Usage: "Process the item before returning"},
			&cli.Int64Flag{Name: "chat-id", Usage: "Chat to notify when processing finishes"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("capture takes exactly one URL"))
			}
			input := ops.CaptureInput{UserID: a.userID(c), URL: c.Args().First()}
			if c.IsSet("chat-id") {
				chatID := c.Int64("chat-id")
				input.ChatID = &chatID
			}

			captured, err := ops.Capture(c.Context, a.db, input)
			if err != nil {
				return outputError(err)
			}
			if !c.Bool("process") {
				return outputJSON(captured)
			}

			processed, err := a.process(c.Context, input.UserID, captured.ID)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"item": captured, "process": processed})
		},
	}
}

// processCmd creates the process command.
func processCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "Run the processing workflow for a captured item",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("process takes exactly one item ID"))
			}
			processed, err := a.process(c.Context, a.userID(c), c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(processed)
		},
	}
}

func (a *app) process(ctx context.Context, userID, id string) (*ops.ProcessOutput, error) {
	runner, cleanup, err := a.runner(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return ops.Process(ctx, a.db, runner, ops.ProcessInput{UserID: userID, ID: id})
}

// fetchCmd creates the fetch command.
func fetchCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch an item with its classification and containers",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-transcript", Usage: "Exclude the transcript from output"},
		},
		Action: func(c *cli.Context) error {
			input := ops.FetchInput{UserID: a.userID(c), ID: c.Args().First()}
			if c.Bool("no-transcript") {
				includeTranscript := false
				input.IncludeTranscript = &includeTranscript
			}

			output, err := ops.Fetch(c.Context, a.db, input)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// listCmd creates the list command.
func listCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List captured items, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status: pending|processing|processed|failed"},
			&cli.StringFlag{Name: "domain", Aliases: []string{"d"}, Usage: "Filter by domain"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.List(c.Context, a.db, ops.ListInput{
				UserID: a.userID(c),
				Status: c.String("status"),
				Domain: c.String("domain"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// containersCmd creates the containers command.
func containersCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "containers",
		Usage: "List containers with their item counts",
		Action: func(c *cli.Context) error {
			output, err := ops.ListContainers(c.Context, a.db, ops.ListContainersInput{UserID: a.userID(c)})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// workerCmd creates the worker command.
func workerCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Process pending items until interrupted",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "concurrency", Aliases: []string{"c"}, Usage: "Items processed at once (defaults to worker_concurrency)"},
			&cli.DurationFlag{Name: "poll", Usage: "Idle poll interval (defaults to worker_poll_seconds)"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address, e.g. :9090"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner, cleanup, err := a.runner(ctx)
			if err != nil {
				return outputError(err)
			}
			defer cleanup()

			concurrency := c.Int("concurrency")
			poll := c.Duration("poll")
			if a.cfg != nil {
				if concurrency <= 0 {
					concurrency = a.cfg.WorkerConcurrency
				}
				if poll <= 0 {
					poll = time.Duration(a.cfg.WorkerPollSeconds) * time.Second
				}
			}
			if addr := c.String("metrics-addr"); addr != "" {
				serveMetrics(ctx, addr, a.log)
			}

			worker := workflow.NewWorker(workflow.WorkerConfig{
				DB:           a.db,
				Runner:       runner,
				Concurrency:  concurrency,
				PollInterval: poll,
				Logger:       a.log.With(logger.String("component", "worker")),
			})
			a.log.Info("worker started", logger.Int("concurrency", concurrency), logger.Duration("poll", poll))
			if err := worker.Run(ctx); err != nil {
				return outputError(err)
			}
			a.log.Info("worker stopped")
			return nil
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP server over stdio",
		Action: func(c *cli.Context) error {
			return serveMCP(c.Context, a)
		},
	}
}

// serveMCP runs the MCP server. Without model credentials the server still
// starts, minus item_process.
func serveMCP(ctx context.Context, a *app) error {
	if a.cfg == nil {
		return outputError(errors.NewInvalidRequest("configuration is not loaded"))
	}
	if unknown := mcp.ValidateDisabledTools(a.cfg.DisabledTools); len(unknown) > 0 {
		a.log.Warn("unknown disabled_tools entries", logger.Strings("tools", unknown))
	}

	var runner ops.Runner
	if a.runners != nil {
		r, cleanup, err := a.runners(ctx)
		if err != nil {
			a.log.Warn("processing disabled", logger.Error(err))
		} else {
			defer cleanup()
			runner = r
		}
	}
	return mcp.Run(a.db, a.cfg, Version, runner)
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var troveErr *errors.TroveError
	if stderrors.As(err, &troveErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", troveErr.Code, troveErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
