package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/spf13/viper"
)

// usage: migrate [up|down|status|version|redo] [args...]
func loadConfig() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("migrate")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("configs")

	v.SetEnvPrefix("MIGRATE")
	v.AutomaticEnv()
	v.SetDefault("dir", "migrations")
	v.SetDefault("table", "goose_db_version")
	v.SetDefault("timeout", time.Minute)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read migrate config")
		}
	}
	if v.GetString("dsn") == "" {
		v.Set("dsn", os.Getenv("DATABASE_DSN"))
	}
	if v.GetString("dsn") == "" {
		return nil, errors.New("dsn is required (MIGRATE_DSN or DATABASE_DSN)")
	}
	return v, nil
}

func command(args []string) (string, []string) {
	if len(args) == 0 {
		return "up", nil
	}
	return args[0], args[1:]
}

func run(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", cfg.GetString("dsn"))
	if err != nil {
		return errors.Wrap(err, "open db")
	}
	defer func() {
		_ = db.Close()
	}()

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "set dialect")
	}
	goose.SetTableName(cfg.GetString("table"))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetDuration("timeout"))
	defer cancel()

	cmd, rest := command(args)
	if err := goose.RunContext(ctx, cmd, db, cfg.GetString("dir"), rest...); err != nil {
		return errors.Wrapf(err, "goose %s", cmd)
	}
	fmt.Println("done")
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
