package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/veridoc"
	"github.com/poiesic/veridoc/config"
	"github.com/poiesic/veridoc/core"
	"github.com/poiesic/veridoc/layout"
	"github.com/poiesic/veridoc/reembed"
)

// openSystem is replaced in tests to inject model service fakes.
var openSystem = func(ctx context.Context, cfg config.Config, opts ...veridoc.Option) (*veridoc.System, error) {
	return veridoc.Open(ctx, cfg, opts...)
}

// loadConfig reads the config file named by --config and applies the
// global command line overrides on top of it.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if v := c.String("db"); v != "" {
		cfg.Storage.Path = v
		cfg.Storage.InMemory = false
	}
	if v := c.String("embedding-host"); v != "" {
		cfg.AI.EmbeddingHost = v
	}
	if v := c.String("embedding-model"); v != "" {
		cfg.AI.EmbeddingModel = v
	}
	if v := c.String("chat-host"); v != "" {
		cfg.AI.ChatHost = v
	}
	if v := c.String("chat-model"); v != "" {
		cfg.AI.ChatModel = v
	}
	if v := c.String("redis-addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := c.String("layout-endpoint"); v != "" {
		cfg.Layout.Endpoint = v
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func withSystem(c *cli.Context, fn func(*veridoc.System) error, opts ...veridoc.Option) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	sys, err := openSystem(c.Context, cfg, append([]veridoc.Option{veridoc.WithLogger(slog.Default())}, opts...)...)
	if err != nil {
		return fmt.Errorf("failed to open veridoc: %w", err)
	}
	err = fn(sys)
	if closeErr := sys.Close(); closeErr != nil {
		slog.Warn("failed to close veridoc", "err", closeErr)
	}
	return err
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if port := c.Int("port"); port != 0 {
		cfg.HTTP.Port = port
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := openSystem(ctx, cfg, veridoc.WithLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("failed to open veridoc: %w", err)
	}
	defer func() {
		if err := sys.Close(); err != nil {
			slog.Warn("failed to close veridoc", "err", err)
		}
	}()

	api, err := sys.NewHTTPServer()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:      api.Handler(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file is required")
	}
	var opts []veridoc.Option
	if c.Bool("blocks") {
		opts = append(opts, veridoc.WithParser(layout.NewJSONParser(slog.Default())))
	}

	return withSystem(c, func(sys *veridoc.System) error {
		out := c.App.Writer
		var tasks []core.Task
		for _, path := range c.Args().Slice() {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			task, err := sys.Orchestrator.Submit(c.Context, filepath.Base(path), data)
			if err != nil {
				return fmt.Errorf("failed to submit %s: %w", path, err)
			}
			if task.Duplicate {
				fmt.Fprintf(out, "%s: already ingested as document %d\n", path, task.DocumentID)
				continue
			}
			fmt.Fprintf(out, "%s: task %s\n", path, task.ID)
			tasks = append(tasks, task)
		}
		if c.Bool("no-wait") {
			return nil
		}

		var failed int
		for _, task := range tasks {
			final, err := follow(c, sys, task)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s (%d chunks, %d flagged)", final.Filename, final.Status, final.TotalChunks, final.FlaggedChunks)
			if final.Message != "" {
				fmt.Fprintf(out, " %s", final.Message)
			}
			fmt.Fprintln(out)
			if final.Status != core.TaskCompleted {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed", failed, len(tasks))
		}
		return nil
	}, opts...)
}

// follow prints stage changes of a task until it is terminal.
func follow(c *cli.Context, sys *veridoc.System, task core.Task) (core.Task, error) {
	updates, unsubscribe, err := sys.Orchestrator.Subscribe(task.ID)
	if err != nil {
		return core.Task{}, err
	}
	defer unsubscribe()

	last := task.Stage
	for {
		select {
		case t, ok := <-updates:
			if !ok {
				return sys.Orchestrator.Wait(c.Context, task.ID)
			}
			if t.Stage != last {
				fmt.Fprintf(c.App.ErrWriter, "%s: %s %d%%\n", t.Filename, t.Stage, t.Progress)
				last = t.Stage
			}
		case <-c.Context.Done():
			sys.Orchestrator.Cancel(task.ID)
			return core.Task{}, c.Context.Err()
		}
	}
}

func statusCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one task ID is required")
	}
	return withSystem(c, func(sys *veridoc.System) error {
		task, err := sys.Orchestrator.Status(c.Context, c.Args().First())
		if err != nil {
			return err
		}
		return printJSON(c, task)
	})
}

func queryCommand(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("a question is required")
	}
	return withSystem(c, func(sys *veridoc.System) error {
		answer, err := sys.Composer.Answer(c.Context, query)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(c, answer)
		}
		out := c.App.Writer
		fmt.Fprintln(out, answer.Text)
		fmt.Fprintf(out, "\nintent: %s  mode: %s  audited: %t\n", answer.Intent, answer.Mode, answer.Audited)
		return nil
	})
}

func documentsCommand(c *cli.Context) error {
	return withSystem(c, func(sys *veridoc.System) error {
		docs, err := sys.Orchestrator.ListDocuments(c.Context)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFILENAME\tSTATUS\tSIZE\tUPLOADED")
		for _, doc := range docs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", doc.Id, doc.Filename, doc.Status,
				doc.Size, doc.UploadedAt.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

func deleteCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one document ID is required")
	}
	id, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid document ID %q: %w", c.Args().First(), err)
	}
	return withSystem(c, func(sys *veridoc.System) error {
		if err := sys.Orchestrator.DeleteDocument(c.Context, core.ID(id)); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "document %d deleted\n", id)
		return nil
	})
}

func reembedCommand(c *cli.Context) error {
	cfg := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		Restart:        c.Bool("restart"),
	}
	return withSystem(c, func(sys *veridoc.System) error {
		r, err := sys.NewReembedder(cfg, c.App.Writer)
		if err != nil {
			return err
		}
		stats, err := r.Run(c.Context)
		if err != nil {
			return err
		}
		slog.Info("reembed finished", "visited", stats.Visited, "reembedded", stats.Reembedded,
			"skipped", stats.Skipped, "resumed", stats.Resumed)
		return nil
	})
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
