package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/bgunnarsson/crudgate/internal/db"
	"github.com/bgunnarsson/crudgate/internal/print"
)

// Output selects how the one-shot commands render their result.
type Output struct {
	JSON  bool
	Table print.Options
}

func (a *App) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.QueryTimeout)
}

// RunDiagnostics prints connection diagnostics.
func (a *App) RunDiagnostics(ctx context.Context, w io.Writer, out Output) error {
	ctx, cancel := a.opContext(ctx)
	defer cancel()

	d, err := a.service.Diagnostics(ctx)
	if err != nil {
		return err
	}
	if out.JSON {
		return writeJSON(w, d)
	}
	print.RenderDiagnostics(w, d, out.Table)
	return nil
}

// RunDescribe prints the model of table, or the whole database structure
// when table is empty.
func (a *App) RunDescribe(ctx context.Context, w io.Writer, table, schemaHint string, out Output) error {
	ctx, cancel := a.opContext(ctx)
	defer cancel()

	if table == "" {
		st, err := a.service.DatabaseStructure(ctx)
		if err != nil {
			return err
		}
		if out.JSON {
			return writeJSON(w, st)
		}
		print.RenderStructure(w, st, out.Table)
		return nil
	}

	schema, cols, found, err := a.service.TableModel(ctx, table, schemaHint)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("table %q was not found in any schema", table)
	}
	if out.JSON {
		return writeJSON(w, map[string]any{"schema": schema, "data": cols, "total": len(cols)})
	}
	fmt.Fprintf(w, "%s.%s\n", schema, table)
	print.RenderColumns(w, cols, out.Table)
	return nil
}

// RunRows prints up to limit rows of a table.
func (a *App) RunRows(ctx context.Context, w io.Writer, ref db.TableRef, limit int, out Output) error {
	ctx, cancel := a.opContext(ctx)
	defer cancel()

	rows, err := a.service.FetchRows(ctx, ref, limit)
	if err != nil {
		return err
	}
	if out.JSON {
		return writeJSON(w, map[string]any{"data": rows, "total": len(rows)})
	}
	print.RenderRows(w, rows, out.Table)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
