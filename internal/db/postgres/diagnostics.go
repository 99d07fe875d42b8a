package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/bgunnarsson/crudgate/internal/db"
)

const diagnosticsQuery = `
SELECT current_database(), current_schema(), current_setting('server_version'), version(),
       COALESCE(host(inet_server_addr()), 'localhost'), COALESCE(inet_server_port(), 5432),
       current_user, pg_backend_pid();
`

const startTimeQuery = `
SELECT pg_postmaster_start_time(),
       EXTRACT(EPOCH FROM (now() - pg_postmaster_start_time()))::bigint;
`

func (p *PostgresDB) ConnectionDiagnostics(ctx context.Context) (*db.Diagnostics, error) {
	d := db.Diagnostics{Provider: "PostgreSQL"}

	err := p.WithDiagnosticsConn(ctx, func(conn *sql.Conn) error {
		var schema sql.NullString
		if err := conn.QueryRowContext(ctx, diagnosticsQuery).Scan(
			&d.Database, &schema, &d.ServerVersion, &d.ServerType,
			&d.Host, &d.Port, &d.CurrentUser, &d.ConnectionID,
		); err != nil {
			return err
		}
		d.Schema = schema.String

		var (
			started time.Time
			secs    int64
		)
		if err := conn.QueryRowContext(ctx, startTimeQuery).Scan(&started, &secs); err != nil {
			p.Logger.Warn("start time lookup failed", "error", err)
			return nil
		}
		d.StartTime = db.FormatStartTime(started)
		d.Uptime = db.FormatUptime(time.Duration(secs) * time.Second)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}
