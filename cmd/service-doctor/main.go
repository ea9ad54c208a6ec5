package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"

	"policy-billing-engine/internal/adapters/analytics"
	"policy-billing-engine/internal/config"
	"policy-billing-engine/internal/observability"
)

var errSkipped = errors.New("not configured")

// Check describes one diagnostic check.
type Check struct {
	Name     string
	Func     func(ctx context.Context) error
	Error    error
	Duration time.Duration
}

func main() {
	logger := observability.SetupLogger("development")
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fmt.Println("Running system diagnostics...")
	checks := runChecks(ctx, buildChecks(cfg, logger))
	if !report(os.Stdout, checks) {
		os.Exit(1)
	}
}

func buildChecks(cfg *config.Config, logger *slog.Logger) []Check {
	checks := []Check{
		{Name: "Billing API", Func: func(ctx context.Context) error {
			addr := cfg.Server.Port
			if strings.HasPrefix(addr, ":") {
				addr = "localhost" + addr
			}
			return checkHTTPHealth(ctx, addr+"/health", logger)
		}},
		{Name: "Storage (" + cfg.Storage.Driver + ")", Func: func(ctx context.Context) error {
			switch cfg.Storage.Driver {
			case "postgres":
				return checkPostgres(ctx, cfg.Postgres.DSN, logger)
			case "bolt":
				_, err := os.Stat(cfg.Storage.BoltPath)
				return err
			default:
				return nil
			}
		}},
		{Name: "Redis", Func: func(ctx context.Context) error {
			return checkRedis(ctx, cfg.Redis.Addr, logger)
		}},
		{Name: "Kafka Cluster", Func: func(ctx context.Context) error {
			if !cfg.Kafka.Enabled {
				return errSkipped
			}
			return checkKafka(ctx, strings.Split(cfg.Kafka.BootstrapServers, ","))
		}},
		{Name: "ClickHouse", Func: func(ctx context.Context) error {
			// ClickHouse is only fed through Kafka.
			if !cfg.Kafka.Enabled {
				return errSkipped
			}
			store, err := analytics.Open(ctx, cfg.ClickHouse)
			if err != nil {
				return err
			}
			return store.Close()
		}},
		{Name: "OIDC Provider", Func: func(ctx context.Context) error {
			return checkHTTPHealth(ctx, optional(cfg.OIDC.URL, "/.well-known/openid-configuration"), logger)
		}},
		{Name: "Open Policy Agent", Func: func(ctx context.Context) error {
			return checkHTTPHealth(ctx, optional(cfg.OPA.URL, "/health"), logger)
		}},
		{Name: "Settlement Gateway", Func: func(ctx context.Context) error {
			if cfg.Settlement.Driver != "http" {
				return errSkipped
			}
			return checkHTTPHealth(ctx, cfg.Settlement.URL+"/health", logger)
		}},
	}
	return checks
}

func optional(base, path string) string {
	if base == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + path
}

// runChecks runs every check concurrently and records its outcome.
func runChecks(ctx context.Context, checks []Check) []Check {
	var wg sync.WaitGroup
	for i := range checks {
		wg.Add(1)
		go func(c *Check) {
			defer wg.Done()
			start := time.Now()
			c.Error = c.Func(ctx)
			c.Duration = time.Since(start)
		}(&checks[i])
	}
	wg.Wait()
	return checks
}

// report prints the results and reports whether every configured check passed.
func report(w io.Writer, checks []Check) bool {
	ok := color.New(color.FgGreen, color.Bold).SprintFunc()
	failed := color.New(color.FgRed, color.Bold).SprintFunc()
	skipped := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintln(w, "\n--- Diagnostics report ---")
	healthy := true
	for _, c := range checks {
		took := c.Duration.Round(time.Millisecond)
		switch {
		case c.Error == nil:
			fmt.Fprintf(w, "[%s] %-25s (%v)\n", ok("OK"), c.Name, took)
		case errors.Is(c.Error, errSkipped):
			fmt.Fprintf(w, "[%s] %-25s\n", skipped("SKIP"), c.Name)
		default:
			healthy = false
			fmt.Fprintf(w, "[%s] %-25s (%v) - %v\n", failed("FAIL"), c.Name, took, c.Error)
		}
	}

	if healthy {
		fmt.Fprintln(w, color.GreenString("\nAll systems healthy."))
	} else {
		fmt.Fprintln(w, color.RedString("\nDiagnostics found problems."))
	}
	return healthy
}

func checkHTTPHealth(ctx context.Context, url string, logger *slog.Logger) error {
	if url == "" {
		return errSkipped
	}
	if !strings.HasPrefix(url, "http") {
		url = "http://" + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return nil
}

func checkPostgres(ctx context.Context, dsn string, logger *slog.Logger) error {
	if dsn == "" {
		return errSkipped
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(ctx); err != nil {
			logger.Error("failed to close Postgres connection", "error", err)
		}
	}()
	return conn.Ping(ctx)
}

func checkRedis(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" {
		return errSkipped
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("failed to close Redis", "error", err)
		}
	}()
	return rdb.Ping(ctx).Err()
}

func checkKafka(ctx context.Context, brokers []string) error {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DialTimeout(5*time.Second),
	)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Ping(ctx)
}
