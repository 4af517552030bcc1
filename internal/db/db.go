package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"

	"github.com/bidhouse/apiserver/config"
	_ "github.com/lib/pq"
)

const (
	driverName      = "postgres"
	applicationName = "bidhouse-apiserver"
)

// DSN builds a postgres:// connection URL from the database config.
func DSN(cfg config.DatabaseConfig) string {
	q := url.Values{}
	if cfg.UseSSL {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	q.Set("application_name", applicationName)
	if secs := int(cfg.ConnectTimeout.Seconds()); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}

	u := &url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:     url.UserPassword(cfg.User, cfg.Password),
		Path:     cfg.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Open connects to PostgreSQL, sizes the pool from cfg and pings the server
// before returning.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	conn, err := sql.Open(driverName, DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	configurePool(conn, cfg)

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return conn, nil
}

func configurePool(conn *sql.DB, cfg config.DatabaseConfig) {
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}
