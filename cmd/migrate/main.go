package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kdimtricp/sitewatch/internal/config"
	"github.com/kdimtricp/sitewatch/internal/database"
	"github.com/kdimtricp/sitewatch/internal/logging"
)

func main() {
	var (
		migrationsPath = flag.String("migrations", "", "Path to migrations directory (empty uses the built-in set)")
		status         = flag.Bool("status", false, "Show migration status only")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: "console", Output: os.Stderr})

	dir := cfg.MigrationsPath
	if *migrationsPath != "" {
		dir = *migrationsPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.NewDB(ctx, database.Config{
		Type:       cfg.Database.Type,
		Host:       cfg.Database.Host,
		Port:       cfg.Database.Port,
		User:       cfg.Database.User,
		Password:   cfg.Database.Password,
		Name:       cfg.Database.Name,
		SQLitePath: cfg.Database.SQLitePath,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	source := database.MigrationSource(dir)
	migrator := database.NewMigrator(db.Conn(), db.Type())

	if !*status {
		if err := migrator.Run(ctx, source); err != nil {
			logging.Fatal().Err(err).Msg("failed to run migrations")
		}
		fmt.Println("Migrations completed successfully!")
		return
	}

	if err := migrator.Initialize(ctx); err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize migrator")
	}
	applied, err := migrator.AppliedMigrations(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to read applied migrations")
	}
	migrations, err := migrator.LoadMigrations(source)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load migrations")
	}

	fmt.Println("Migration Status:")
	fmt.Println("=================")
	for _, m := range migrations {
		state := "pending"
		if applied[m.Version] {
			state = "applied"
		}
		fmt.Printf("%s - %s [%s]\n", m.Version, m.Name, state)
	}
}
