package migrations

import (
	"context"
	"fmt"

	chstore "token-rollup/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the archive database named in the DSN and
// applies every embedded migration to it, one statement per Exec.
// The returned connection targets the archive database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	files, err := loadMigrations(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}
	// Split before connecting so a bad script fails fast.
	scripts := make([][]string, len(files))
	for i, f := range files {
		if scripts[i], err = splitStatements(f.SQL); err != nil {
			return nil, fmt.Errorf("parse migration %s: %w", f.Name, err)
		}
	}

	db, err := chstore.DatabaseName(dsn)
	if err != nil {
		return nil, err
	}
	if err := ensureDatabase(ctx, dsn, db); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, db)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", db, err)
	}
	for i, f := range files {
		for _, stmt := range scripts[i] {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", f.Name, err)
			}
		}
	}
	return conn, nil
}

// ensureDatabase creates db through a connection to the server default database.
func ensureDatabase(ctx context.Context, dsn, db string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse server: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", db)); err != nil {
		return fmt.Errorf("create database %s: %w", db, err)
	}
	return nil
}
