package api

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
)

// DBHandler reports on the DuckDB store. It is only registered when the
// service runs on DuckDB.
type DBHandler struct {
	db *sql.DB
}

func NewDBHandler(db *sql.DB) *DBHandler {
	return &DBHandler{db: db}
}

func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("health"))
}

type TableInfo struct {
	Name string `json:"name" doc:"Table name"`
	Rows int64  `json:"rows" doc:"Number of rows"`
}

type TablesOutput struct {
	Body struct {
		Tables []TableInfo `json:"tables" doc:"Tables of the store with their row counts"`
	}
}

// ListTables returns all DuckDB tables with their row counts.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	rows, err := h.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			names = append(names, name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}

	out := &TablesOutput{}
	out.Body.Tables = []TableInfo{}
	for _, name := range names {
		var n int64
		// Names come from SHOW TABLES, not from the request.
		q := fmt.Sprintf(`SELECT count(*) FROM "%s"`, name)
		if err := h.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, huma.Error500InternalServerError("Failed to count rows", err)
		}
		out.Body.Tables = append(out.Body.Tables, TableInfo{Name: name, Rows: n})
	}
	return out, nil
}
