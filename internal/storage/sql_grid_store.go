package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/annel0/place3d/internal/grid"
	"github.com/annel0/place3d/internal/vec"
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// SQLGridStore реализует GridStore для MariaDB/MySQL и SQLite.
// Использует таблицу cubes с первичным ключом (world_id, x, y, z).
// Колонка ord хранит grid.Cube.OrderKey: upsert обновляет строку, только если
// новый ключ больше, поэтому last-write-wins не зависит от порядка записи.
type SQLGridStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLGridStore открывает базу и создает таблицу, если она не существует.
//
// Параметры:
//
//	driver - "mysql" (user:pass@tcp(host:port)/dbname) или "sqlite" (путь или file: URI)
//	dsn - строка подключения
//
// Возвращает:
//
//	*SQLGridStore - экземпляр хранилища
//	error - ошибка при подключении или создании таблицы
func NewSQLGridStore(driver, dsn string) (*SQLGridStore, error) {
	if driver != "mysql" && driver != "sqlite" {
		return nil, fmt.Errorf("неподдерживаемый SQL драйвер: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть базу %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// SQLite допускает одного писателя; :memory: живёт в рамках одного соединения.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с %s: %w", driver, err)
	}

	store := &SQLGridStore{db: db, dialect: driver}

	if err := store.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}

	return store, nil
}

// createTable создает таблицу cubes, если она не существует.
func (s *SQLGridStore) createTable() error {
	ordType := "BLOB"
	if s.dialect == "mysql" {
		ordType = "VARBINARY(768)"
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS cubes (
			world_id  VARCHAR(128) NOT NULL,
			x         INT          NOT NULL,
			y         INT          NOT NULL,
			z         INT          NOT NULL,
			color     VARCHAR(64)  NOT NULL,
			placed_by VARCHAR(128) NOT NULL,
			placed_at BIGINT       NOT NULL,
			ord       %s NOT NULL,
			PRIMARY KEY (world_id, x, y, z)
		)`, ordType)
	if s.dialect == "mysql" {
		query += " ENGINE=InnoDB"
	}

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы cubes: %w", err)
	}
	return nil
}

func (s *SQLGridStore) upsertQuery() string {
	if s.dialect == "mysql" {
		// MySQL применяет присваивания слева направо: ord меняется последним.
		return `
			INSERT INTO cubes (world_id, x, y, z, color, placed_by, placed_at, ord)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				color = IF(VALUES(ord) > ord, VALUES(color), color),
				placed_by = IF(VALUES(ord) > ord, VALUES(placed_by), placed_by),
				placed_at = IF(VALUES(ord) > ord, VALUES(placed_at), placed_at),
				ord = IF(VALUES(ord) > ord, VALUES(ord), ord)`
	}
	return `
		INSERT INTO cubes (world_id, x, y, z, color, placed_by, placed_at, ord)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (world_id, x, y, z) DO UPDATE SET
			color = excluded.color,
			placed_by = excluded.placed_by,
			placed_at = excluded.placed_at,
			ord = excluded.ord
		WHERE excluded.ord > cubes.ord`
}

// Put записывает куб; существующая запись заменяется, только если новая новее.
func (s *SQLGridStore) Put(ctx context.Context, worldID string, cube grid.Cube) error {
	p := cube.Position
	_, err := s.db.ExecContext(ctx, s.upsertQuery(),
		worldID, p.X, p.Y, p.Z, cube.Color, cube.PlacedBy, cube.PlacedAt.UnixMilli(), cube.OrderKey())
	if err != nil {
		return unavailable(fmt.Sprintf("grid put %s %s", worldID, p), err)
	}
	return nil
}

// GetAll загружает все кубы мира.
func (s *SQLGridStore) GetAll(ctx context.Context, worldID string) (map[string]grid.Cube, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT x, y, z, color, placed_by, placed_at FROM cubes WHERE world_id = ?`, worldID)
	if err != nil {
		return nil, unavailable("grid get all", err)
	}
	defer rows.Close()

	result := make(map[string]grid.Cube)
	for rows.Next() {
		var (
			cube     grid.Cube
			p        vec.Vec3
			placedAt int64
		)
		if err := rows.Scan(&p.X, &p.Y, &p.Z, &cube.Color, &cube.PlacedBy, &placedAt); err != nil {
			return nil, unavailable("grid scan", err)
		}
		cube.Position = p
		cube.PlacedAt = time.UnixMilli(placedAt).UTC()
		result[cube.Key()] = cube
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("grid rows", err)
	}
	return result, nil
}

// Count возвращает число кубов мира.
func (s *SQLGridStore) Count(ctx context.Context, worldID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cubes WHERE world_id = ?`, worldID).Scan(&n)
	if err != nil {
		return 0, unavailable("grid count", err)
	}
	return n, nil
}

// Close закрывает соединение с базой данных.
func (s *SQLGridStore) Close() error {
	return s.db.Close()
}
