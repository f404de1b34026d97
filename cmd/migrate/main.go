package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/packfinderz-pools/pkg/config"
	"github.com/angelmondragon/packfinderz-pools/pkg/db"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
	"github.com/angelmondragon/packfinderz-pools/pkg/migrate"
)

const serviceKind = "migrate"

func main() {
	cmd := flag.String("cmd", "up", "up|down|status|to|create|validate")
	name := flag.String("name", "", "migration name for -cmd=create")
	target := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=to")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceKind})
	ctx := logg.WithField(context.Background(), "cmd", *cmd)

	// create and validate only touch files
	switch *cmd {
	case "create":
		if *name == "" {
			fail(ctx, logg, "missing -name", nil)
		}
		path, err := migrate.Create(migrate.SourceDir, *name, time.Now())
		if err != nil {
			fail(ctx, logg, "create migration", err)
		}
		fmt.Println("created", path)
		return
	case "validate":
		if err := migrate.Validate(migrate.Migrations()); err != nil {
			fail(ctx, logg, "validate migrations", err)
		}
		fmt.Println("migrations valid")
		return
	}

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		fail(ctx, logg, "load config", err)
	}
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		fail(ctx, logg, "bootstrap database", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		fail(ctx, logg, "extract sql.DB", err)
	}
	migrator, err := migrate.New(sqlDB, logg)
	if err != nil {
		fail(ctx, logg, "build migrator", err)
	}

	switch *cmd {
	case "up":
		err = migrator.Up(ctx)
	case "down":
		err = migrator.Down(ctx)
	case "status":
		err = printStatus(ctx, migrator)
	case "to":
		version, parseErr := strconv.ParseInt(*target, 10, 64)
		if parseErr != nil {
			fail(ctx, logg, "parse -version", parseErr)
		}
		err = migrator.To(ctx, version)
	default:
		err = fmt.Errorf("unknown -cmd %q", *cmd)
	}
	if err != nil {
		dbClient.Close()
		fail(ctx, logg, "migration command failed", err)
	}
}

func printStatus(ctx context.Context, migrator *migrate.Migrator) error {
	statuses, err := migrator.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT")
	for _, s := range statuses {
		applied := "-"
		if !s.AppliedAt.IsZero() {
			applied = s.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", s.Source.Version, s.State, applied)
	}
	return w.Flush()
}

func fail(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if err == nil {
		err = fmt.Errorf("%s", msg)
	}
	logg.Error(ctx, msg, err)
	os.Exit(1)
}
