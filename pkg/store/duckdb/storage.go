package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/marcboeker/go-duckdb/v2"
)

const CostRecordsSchema = `
	CREATE TABLE IF NOT EXISTS cost_records (
		account_id VARCHAR NOT NULL,
		provider VARCHAR NOT NULL,
		service_name VARCHAR NOT NULL,
		region VARCHAR NOT NULL,
		usage_date DATE NOT NULL,
		raw_service_name VARCHAR,
		amount DOUBLE NOT NULL,
		currency VARCHAR NOT NULL,
		amount_usd DOUBLE NOT NULL,
		usage_quantity DOUBLE NOT NULL,
		usage_unit VARCHAR,
		unmapped BOOLEAN NOT NULL DEFAULT FALSE,
		ingested_at TIMESTAMP NOT NULL,
		PRIMARY KEY (account_id, provider, service_name, region, usage_date)
	);
`

const DocumentsSchema = `
	CREATE TABLE IF NOT EXISTS documents (
		bucket VARCHAR NOT NULL,
		doc_key VARCHAR NOT NULL,
		doc_value VARCHAR NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (bucket, doc_key)
	);
`

var bootQueries = []string{
	CostRecordsSchema,
	DocumentsSchema,
}

type Settings struct {
	DbPath  string
	Threads int
}

func NewDB(settings Settings) (*sql.DB, error) {
	threads := settings.Threads
	if threads <= 0 {
		threads = 4
	}

	dsn := fmt.Sprintf("%s?threads=%d", settings.DbPath, threads)
	c, err := duckdb.NewConnector(dsn, func(exec driver.ExecerContext) error {
		for _, query := range bootQueries {
			_, err := exec.ExecContext(context.Background(), query, nil)
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	db := sql.OpenDB(c)
	return db, nil
}
