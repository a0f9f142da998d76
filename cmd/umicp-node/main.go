// Package main is the entrypoint for the UMICP node.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/umicp/internal/config"
	"github.com/morezero/umicp/internal/server"
	"github.com/morezero/umicp/pkg/db"
	"github.com/morezero/umicp/pkg/envelope"
)

const usage = `Usage: umicp-node [command]
       umicp-node serve              Start the node (NATS subscription, HTTP health and metrics).
       umicp-node migrate up         Run journal database migrations.
       umicp-node migrate status     Show migration status.
       umicp-node ensure-db [name]   Create database if missing (default name: umicp_test). Uses DATABASE_URL host/user.
       umicp-node clear [--schemas]  Truncate the envelope journal; --schemas also removes persisted schemas.
       umicp-node hash <file|->      Print the SHA-256 hash of a serialized envelope.

Commands:
  serve           (default) Start the node.
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  ensure-db       Create database (e.g. umicp_test) on same host as DATABASE_URL.
  clear           Truncate journal data; tables are preserved.
  hash            Deserialize an envelope from a file or stdin and print its hash.

Environment: COMMS_URL, NODE_ID, DATABASE_URL (journal, migrate, clear), MIGRATION_PATH,
SCHEMA_BOOTSTRAP_FILE, COMPRESSION, HTTP_PORT, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("umicp-node migrate: require subcommand (up, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("umicp-node migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("umicp-node migrate status: %v", err)
			}
		default:
			log.Fatalf("umicp-node migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "clear":
		includeSchemas := len(args) > 1 && args[1] == "--schemas"
		if err := runClear(includeSchemas); err != nil {
			log.Fatalf("umicp-node clear: %v", err)
		}
		return
	case "ensure-db":
		dbName := "umicp_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("umicp-node ensure-db: %v", err)
		}
		return
	case "hash":
		if len(args) < 2 {
			log.Fatalf("umicp-node hash: require a file path or -")
		}
		h, err := runHash(args[1], os.Stdin)
		if err != nil {
			log.Fatalf("umicp-node hash: %v", err)
		}
		fmt.Println(h)
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("umicp-node: %v", err)
	}
}

// withPool loads configuration, opens the journal database and runs fn against it.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		if err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		return nil
	})
}

func runMigrateStatus() error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		status, err := db.MigrationStatus(ctx, pool, cfg.MigrationPath)
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	})
}

func runClear(includeSchemas bool) error {
	return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
		if err := db.ClearJournal(ctx, pool, includeSchemas); err != nil {
			return fmt.Errorf("clear journal: %w", err)
		}
		return nil
	})
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	if err := db.EnsureDatabase(context.Background(), u.String()); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}

// runHash reads a serialized envelope from path, or from stdin when path is "-", and returns
// its hash.
func runHash(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read envelope: %w", err)
	}
	e, err := envelope.Deserialize(data)
	if err != nil {
		return "", err
	}
	return envelope.Hash(e)
}
