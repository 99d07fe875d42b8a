package mssql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/bgunnarsson/crudgate/internal/db"
)

const diagnosticsQuery = `
SELECT DB_NAME(), SCHEMA_NAME(),
       CAST(SERVERPROPERTY('ProductVersion') AS nvarchar(128)),
       CAST(SERVERPROPERTY('Edition') AS nvarchar(128)),
       CAST(SERVERPROPERTY('MachineName') AS nvarchar(128)),
       SUSER_SNAME(), @@SPID;
`

// Both need VIEW SERVER STATE; without it diagnostics still succeed.
const portQuery = `
SELECT local_tcp_port FROM sys.dm_exec_connections WHERE session_id = @@SPID;
`

const startTimeQuery = `
SELECT sqlserver_start_time, DATEDIFF(SECOND, sqlserver_start_time, SYSDATETIME())
FROM sys.dm_os_sys_info;
`

func (m *MssqlDB) ConnectionDiagnostics(ctx context.Context) (*db.Diagnostics, error) {
	var d db.Diagnostics

	err := m.WithDiagnosticsConn(ctx, func(conn *sql.Conn) error {
		var schema, host sql.NullString
		if err := conn.QueryRowContext(ctx, diagnosticsQuery).Scan(
			&d.Database, &schema, &d.ServerVersion, &d.ServerType,
			&host, &d.CurrentUser, &d.ConnectionID,
		); err != nil {
			return err
		}
		d.Schema = schema.String
		d.Host = host.String

		d.Provider = "SqlServer"
		if strings.Contains(strings.ToLower(d.ServerType), "express") {
			d.Provider = "SqlServerExpress"
		}

		var port sql.NullInt64
		if err := conn.QueryRowContext(ctx, portQuery).Scan(&port); err != nil {
			m.Logger.Warn("port lookup failed", "error", err)
		} else {
			d.Port = int(port.Int64)
		}

		var (
			started time.Time
			secs    int64
		)
		if err := conn.QueryRowContext(ctx, startTimeQuery).Scan(&started, &secs); err != nil {
			m.Logger.Warn("start time lookup failed", "error", err)
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
