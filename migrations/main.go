// The migrator applies Fletcher's database schema. Every migration is
// embedded in the binary, so a deployment needs this single artifact and
// a DATABASE_URL.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Build-time version information, set via -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const name = "migrator"

func main() {
	showVersion := flag.Bool("version", false, "print version information")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s (commit %s, built %s)\n", name, Version, GitCommit, BuildTime)
		return
	}

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(2)
	}

	config, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	runner, err := NewMigrationRunner(config)
	if err != nil {
		log.Fatalf("Failed to initialize migrator: %v", err)
	}
	defer func() {
		_ = runner.Close()
	}()

	if err := executeCommand(flag.Arg(0), runner, os.Stdin); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

// executeCommand dispatches one migrator command to the runner. The
// reader supplies the confirmation answer for destructive commands.
func executeCommand(command string, runner MigrationRunner, in io.Reader) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		if !confirmDrop(in) {
			fmt.Println("Drop cancelled.")
			return nil
		}

		return runner.Drop()
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// confirmDrop asks for explicit confirmation before destroying data.
func confirmDrop(in io.Reader) bool {
	fmt.Print("This drops every table in the database. Continue? (y/N): ")

	var answer string

	_, _ = fmt.Fscanln(in, &answer)

	return answer == "y" || answer == "Y"
}

func printUsage() {
	fmt.Printf(`%s v%s - database migration tool for Fletcher

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Roll back the most recent migration
    status  Show the database version and schema drift
    version Show the database version
    drop    Drop all tables (asks for confirmation)

OPTIONS:
    --version  Print version information

ENVIRONMENT:
    DATABASE_URL     PostgreSQL connection string (required)
    MIGRATION_TABLE  Migration tracking table (default: schema_migrations)
`, name, Version, name)
}
