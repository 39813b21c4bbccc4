package client

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/exp/slog"

	"medsync/internal/domain/document"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// schemaVersion — ожидаемая версия схемы локального кэша. При несовпадении
// с сохраненной версией хранилище полностью очищается и создается заново:
// пополевую миграцию кэш не поддерживает, источником истины остается сервер.
const schemaVersion = 1

// Store — локальное документное хранилище на SQLite. Одна таблица на все
// коллекции, доменные поля лежат в JSON и фильтруются через json_extract.
// Режим WAL позволяет нескольким процессам безопасно делить один файл кэша.
type Store struct {
	db       *sql.DB
	log      *slog.Logger
	registry *document.Registry
}

// OpenStore открывает (или создает) файл кэша и приводит схему к актуальной версии.
func OpenStore(path string, registry *document.Registry, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}

	store := &Store{db: db, log: log, registry: registry}

	if err := store.migrateSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка инициализации схемы: %w", err)
	}

	return store, nil
}

func (s *Store) migrateSchema() error {
	m, err := s.newMigrator()
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		// Свежий файл, просто накатываем схему.
	case err != nil:
		return fmt.Errorf("ошибка чтения версии схемы: %w", err)
	case dirty || version > schemaVersion:
		// Несовместимая или битая схема: очищаем кэш целиком и пересоздаем.
		// Данные не теряются навсегда — кэш восстанавливается из сервера,
		// но предупреждаем до разрушительной операции.
		s.log.Warn("Несовместимая версия схемы локального кэша, хранилище будет очищено",
			"have", version,
			"want", schemaVersion,
			"dirty", dirty,
		)
		if err := m.Drop(); err != nil {
			return fmt.Errorf("ошибка очистки хранилища: %w", err)
		}
		// После Drop таблица версий удалена, мигратор нужно пересоздать.
		if m, err = s.newMigrator(); err != nil {
			return err
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}
	return nil
}

func (s *Store) newMigrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения миграций: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации драйвера миграций: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "sqlite3", driver)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert вставляет документ или заменяет существующий с тем же идентификатором.
// Документ валидируется по схеме коллекции; невалидный отклоняется.
func (s *Store) Upsert(ctx context.Context, collection string, doc *document.Document) error {
	if err := s.registry.Validate(collection, doc); err != nil {
		return err
	}

	dataJSON, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("ошибка сериализации полей документа: %w", err)
	}
	metaJSON, err := json.Marshal(doc.Meta)
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at, sync_status, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			data = excluded.data,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			sync_status = excluded.sync_status,
			meta = excluded.meta
	`, collection, doc.ID, string(dataJSON),
		doc.CreatedAt.UTC().Format(time.RFC3339Nano),
		doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(doc.SyncStatus), string(metaJSON))
	if err != nil {
		return fmt.Errorf("ошибка записи документа %s/%s: %w", collection, doc.ID, err)
	}
	return nil
}

// FindByID возвращает документ или document.ErrNotFound.
func (s *Store) FindByID(ctx context.Context, collection, id string) (*document.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, data, created_at, updated_at, sync_status, meta
		FROM documents
		WHERE collection = ? AND id = ?
	`, collection, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", document.ErrNotFound, collection, id)
	}
	return doc, err
}

// Selector — селектор равенства по полям документа. Ключ "syncStatus" фильтрует
// по состоянию синхронизации, ключи вида "meta.pending" — по служебным полям,
// остальные ключи — по доменным полям (например "doctorId").
type Selector map[string]any

// Find возвращает документы коллекции, удовлетворяющие селектору,
// в порядке возрастания updatedAt.
func (s *Store) Find(ctx context.Context, collection string, sel Selector) ([]*document.Document, error) {
	query := `
		SELECT id, data, created_at, updated_at, sync_status, meta
		FROM documents
		WHERE collection = ?`
	args := []any{collection}

	// Детерминированный порядок условий, чтобы план запроса был стабильным.
	keys := make([]string, 0, len(sel))
	for k := range sel {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch {
		case key == "syncStatus":
			query += " AND sync_status = ?"
		case key == "id":
			query += " AND id = ?"
		case strings.HasPrefix(key, "meta."):
			query += fmt.Sprintf(" AND json_extract(meta, '$.%s') = ?", strings.TrimPrefix(key, "meta."))
		default:
			query += fmt.Sprintf(" AND json_extract(data, '$.%s') = ?", key)
		}
		args = append(args, selectorValue(sel[key]))
	}
	query += " ORDER BY updated_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса документов %s: %w", collection, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// ListUnsynced возвращает документы коллекции, еще не принятые сервером
// (pending и failed), в порядке возрастания updatedAt.
func (s *Store) ListUnsynced(ctx context.Context, collection string) ([]*document.Document, error) {
	return s.ListByStatus(ctx, collection, document.StatusPending, document.StatusFailed)
}

// ListByStatus возвращает документы коллекции в заданных состояниях
// синхронизации, в порядке возрастания updatedAt.
func (s *Store) ListByStatus(ctx context.Context, collection string, statuses ...document.SyncStatus) ([]*document.Document, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := []any{collection}
	for _, status := range statuses {
		args = append(args, string(status))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data, created_at, updated_at, sync_status, meta
		FROM documents
		WHERE collection = ? AND sync_status IN (`+placeholders+`)
		ORDER BY updated_at ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса несинхронизированных документов %s: %w", collection, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// SetSyncState обновляет состояние синхронизации и служебные поля документа
// без перезаписи доменных полей.
func (s *Store) SetSyncState(ctx context.Context, collection, id string, status document.SyncStatus, meta document.Meta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET sync_status = ?, meta = ?
		WHERE collection = ? AND id = ?
	`, string(status), string(metaJSON), collection, id)
	if err != nil {
		return fmt.Errorf("ошибка обновления состояния %s/%s: %w", collection, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", document.ErrNotFound, collection, id)
	}
	return nil
}

// Remove жестко удаляет документ.
func (s *Store) Remove(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE collection = ? AND id = ?
	`, collection, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления документа %s/%s: %w", collection, id, err)
	}
	return nil
}

// CountPending возвращает число несинхронизированных документов коллекции.
func (s *Store) CountPending(ctx context.Context, collection string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents
		WHERE collection = ? AND sync_status IN (?, ?)
	`, collection, string(document.StatusPending), string(document.StatusFailed)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета несинхронизированных документов %s: %w", collection, err)
	}
	return count, nil
}

// Clear удаляет все документы коллекции. Контрольные точки репликации
// хранятся отдельно и очисткой кэша не затрагиваются.
func (s *Store) Clear(ctx context.Context, collection string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, collection)
	if err != nil {
		return fmt.Errorf("ошибка очистки коллекции %s: %w", collection, err)
	}
	return nil
}

// ClearAll удаляет все документы всех коллекций.
func (s *Store) ClearAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents`)
	if err != nil {
		return fmt.Errorf("ошибка очистки хранилища: %w", err)
	}
	return nil
}

func selectorValue(v any) any {
	// json_extract возвращает булевы значения как 0/1.
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var (
		doc                  document.Document
		dataJSON, metaJSON   string
		createdAt, updatedAt string
		status               string
	)

	if err := row.Scan(&doc.ID, &dataJSON, &createdAt, &updatedAt, &status, &metaJSON); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(dataJSON), &doc.Fields); err != nil {
		return nil, fmt.Errorf("ошибка парсинга полей документа %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &doc.Meta); err != nil {
		return nil, fmt.Errorf("ошибка парсинга метаданных документа %s: %w", doc.ID, err)
	}

	var err error
	if doc.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("ошибка парсинга created_at документа %s: %w", doc.ID, err)
	}
	if doc.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("ошибка парсинга updated_at документа %s: %w", doc.ID, err)
	}

	doc.SyncStatus = document.SyncStatus(status)
	return &doc, nil
}

func scanDocuments(rows *sql.Rows) ([]*document.Document, error) {
	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения документов: %w", err)
	}
	return docs, nil
}
