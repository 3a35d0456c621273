package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	InstanceKey contextKey = "instance"
	DBConnKey   contextKey = "db_conn"

	// InstanceHeader selects the platform instance when no token claim does.
	InstanceHeader = "X-Canvas-Instance"
)

var instancePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaFor returns the Postgres schema that holds an instance's replicated data.
func SchemaFor(instance string) string {
	return fmt.Sprintf("instance_%s", instance)
}

// InstanceMiddleware resolves the platform instance for a request, acquires a
// connection scoped to its schema and stores it on the request context for
// the repositories.
func InstanceMiddleware(pool *pgxpool.Pool, defaultInstance string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			instance := extractInstance(c, defaultInstance)

			if !instancePattern.MatchString(instance) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid instance identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaFor(instance)))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "instance resolution failed")
			}

			ctx = context.WithValue(ctx, InstanceKey, instance)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("instance", instance)

			return next(c)
		}
	}
}

func extractInstance(c echo.Context, defaultInstance string) string {
	// Token claim set by the auth middleware wins.
	if id, ok := c.Get("jwt_instance").(string); ok && id != "" {
		return id
	}

	if id := c.Request().Header.Get(InstanceHeader); id != "" {
		return id
	}

	if id := c.QueryParam("instance"); id != "" {
		return id
	}

	return defaultInstance
}

// ConnFromContext retrieves the instance-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// InstanceFromContext retrieves the instance name from context.
func InstanceFromContext(ctx context.Context) string {
	id, _ := ctx.Value(InstanceKey).(string)
	return id
}

// CreateInstanceSchema creates the schema for an instance and, when migrations
// is non-nil, applies every pending migration to it.
func CreateInstanceSchema(ctx context.Context, pool *pgxpool.Pool, instance string, migrations fs.FS) (int, error) {
	if !instancePattern.MatchString(instance) {
		return 0, fmt.Errorf("invalid instance identifier: %s", instance)
	}

	schema := SchemaFor(instance)
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return 0, fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrations == nil {
		return 0, nil
	}
	n, err := NewMigrator(pool, migrations).Up(ctx, schema)
	if err != nil {
		return n, fmt.Errorf("run migrations for %s: %w", schema, err)
	}
	return n, nil
}
