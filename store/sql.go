package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/maxpert/engage/counter"
	"github.com/rs/zerolog/log"
)

// Driver names registered by the sqlite3 and mysql database/sql drivers
const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var schemas = map[string]string{
	DriverSQLite: `CREATE TABLE IF NOT EXISTS %s (
		entity_type INTEGER NOT NULL,
		entity_id   INTEGER NOT NULL,
		value       INTEGER NOT NULL DEFAULT 0,
		updated_at  INTEGER NOT NULL,
		PRIMARY KEY (entity_type, entity_id)
	)`,
	DriverMySQL: `CREATE TABLE IF NOT EXISTS %s (
		entity_type TINYINT UNSIGNED NOT NULL,
		entity_id   BIGINT NOT NULL,
		value       BIGINT NOT NULL DEFAULT 0,
		updated_at  BIGINT NOT NULL,
		PRIMARY KEY (entity_type, entity_id)
	) ENGINE=InnoDB`,
}

// SQLStore keeps counters in one relational table keyed by (entity_type, entity_id)
type SQLStore struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
	driver  string
	table   string
}

// OpenSQL opens the database and creates the counter table when missing
func OpenSQL(ctx context.Context, driver, dsn, table string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}

	if driver == DriverSQLite {
		// One writer avoids SQLITE_BUSY between the batch writer and reconcile
		db.SetMaxOpenConns(1)
	}

	s, err := NewSQLStore(db, driver, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database without touching the schema
func NewSQLStore(db *sql.DB, driver, table string) (*SQLStore, error) {
	if _, ok := schemas[driver]; !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SQLStore{
		db:      db,
		dialect: goqu.Dialect(driver),
		driver:  driver,
		table:   table,
	}, nil
}

// Migrate creates the counter table
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(schemas[s.driver], s.table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	log.Debug().Str("driver", s.driver).Str("table", s.table).Msg("Counter table ready")
	return nil
}

func (s *SQLStore) ReadCounter(ctx context.Context, key counter.Key) (int64, bool, error) {
	query, args, err := s.selectSQL(key)
	if err != nil {
		return 0, false, err
	}

	var v int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *SQLStore) WriteCounter(ctx context.Context, key counter.Key, value int64) error {
	return s.WriteCounters(ctx, map[counter.Key]int64{key: value})
}

// WriteCounters upserts every value in a single statement
func (s *SQLStore) WriteCounters(ctx context.Context, values map[counter.Key]int64) error {
	if len(values) == 0 {
		return nil
	}
	query, args, err := s.upsertSQL(values, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLStore) DeleteCounter(ctx context.Context, key counter.Key) error {
	query, args, err := s.dialect.Delete(s.table).
		Prepared(true).
		Where(keyExpr(key)).
		ToSQL()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// Keys lists stored keys of one entity type, used by cache warm-up
func (s *SQLStore) Keys(ctx context.Context, entity counter.EntityType, limit uint) ([]counter.Key, error) {
	query, args, err := s.dialect.From(s.table).
		Prepared(true).
		Select("entity_id").
		Where(goqu.Ex{"entity_type": uint8(entity)}).
		Order(goqu.C("updated_at").Desc()).
		Limit(limit).
		ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []counter.Key
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		keys = append(keys, counter.NewKey(entity, id))
	}
	return keys, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) selectSQL(key counter.Key) (string, []interface{}, error) {
	return s.dialect.From(s.table).
		Prepared(true).
		Select("value").
		Where(keyExpr(key)).
		ToSQL()
}

func (s *SQLStore) upsertSQL(values map[counter.Key]int64, now int64) (string, []interface{}, error) {
	rows := make([]interface{}, 0, len(values))
	for k, v := range values {
		rows = append(rows, goqu.Record{
			"entity_type": uint8(k.Entity),
			"entity_id":   k.ID,
			"value":       v,
			"updated_at":  now,
		})
	}

	return s.dialect.Insert(s.table).
		Prepared(true).
		Rows(rows...).
		OnConflict(goqu.DoUpdate("entity_type, entity_id", goqu.Record{
			"value":      s.incoming("value"),
			"updated_at": s.incoming("updated_at"),
		})).
		ToSQL()
}

// incoming refers to the value a conflicting insert tried to write
func (s *SQLStore) incoming(col string) exp.LiteralExpression {
	if s.driver == DriverMySQL {
		return goqu.L(fmt.Sprintf("VALUES(%s)", col))
	}
	return goqu.L(fmt.Sprintf("excluded.%s", col))
}

func keyExpr(key counter.Key) goqu.Ex {
	return goqu.Ex{
		"entity_type": uint8(key.Entity),
		"entity_id":   key.ID,
	}
}
