package mysql

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/bgunnarsson/crudgate/internal/db"
)

const diagnosticsQuery = `
SELECT DATABASE(), SCHEMA(), VERSION(), @@hostname, @@port,
       @@version_comment, USER(), CONNECTION_ID();
`

const uptimeQuery = `SHOW STATUS LIKE 'Uptime'`

func (m *MysqlDB) ConnectionDiagnostics(ctx context.Context) (*db.Diagnostics, error) {
	var d db.Diagnostics

	err := m.WithDiagnosticsConn(ctx, func(conn *sql.Conn) error {
		var database, schema sql.NullString
		if err := conn.QueryRowContext(ctx, diagnosticsQuery).Scan(
			&database, &schema, &d.ServerVersion, &d.Host, &d.Port,
			&d.ServerType, &d.CurrentUser, &d.ConnectionID,
		); err != nil {
			return err
		}

		d.Database = database.String
		d.Schema = schema.String
		if d.Schema == "" {
			d.Schema = d.Database
		}
		d.Provider = "MySQL"
		if strings.Contains(strings.ToLower(d.ServerType), "mariadb") ||
			strings.Contains(strings.ToLower(d.ServerVersion), "mariadb") {
			d.Provider = "MariaDB"
		}

		uptime, err := readUptime(ctx, conn)
		if err != nil {
			m.Logger.Warn("uptime lookup failed", "error", err)
			return nil
		}
		d.StartTime = db.FormatStartTime(time.Now().Add(-uptime))
		d.Uptime = db.FormatUptime(uptime)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func readUptime(ctx context.Context, conn *sql.Conn) (time.Duration, error) {
	var name, value string
	if err := conn.QueryRowContext(ctx, uptimeQuery).Scan(&name, &value); err != nil {
		return 0, err
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}
