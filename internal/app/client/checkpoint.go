package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
	"time"
)

// Checkpoint — водяной знак репликации коллекции: updatedAt и id последнего
// успешно полученного документа и время последнего цикла. Идентификатор
// разрывает равные метки времени при постраничном пулле.
type Checkpoint struct {
	Collection string    `json:"collection"`
	LastSync   time.Time `json:"lastSync"`
	Checkpoint time.Time `json:"checkpoint"`
	LastID     string    `json:"lastId,omitempty"`
}

// CheckpointStore хранит контрольные точки в JSON-файле отдельно от
// документного хранилища: они должны переживать очистку кэша независимо.
type CheckpointStore struct {
	path string
	mu   gosync.Mutex
}

func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path}
}

// Get возвращает контрольную точку коллекции. Для коллекции без точки
// возвращается нулевое значение — пулл начнется с самого начала.
func (c *CheckpointStore) Get(collection string) (Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.load()
	if err != nil {
		return Checkpoint{}, err
	}
	cp, ok := all[collection]
	if !ok {
		return Checkpoint{Collection: collection}, nil
	}
	return cp, nil
}

// Set сохраняет контрольную точку коллекции.
func (c *CheckpointStore) Set(cp Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.load()
	if err != nil {
		return err
	}
	all[cp.Collection] = cp
	return c.save(all)
}

// All возвращает все сохраненные контрольные точки.
func (c *CheckpointStore) All() (map[string]Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load()
}

// Reset удаляет все контрольные точки: следующий пулл заберет данные заново.
func (c *CheckpointStore) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка сброса контрольных точек: %w", err)
	}
	return nil
}

func (c *CheckpointStore) load() (map[string]Checkpoint, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return make(map[string]Checkpoint), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения контрольных точек: %w", err)
	}

	var all map[string]Checkpoint
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("ошибка парсинга контрольных точек: %w", err)
	}
	if all == nil {
		all = make(map[string]Checkpoint)
	}
	return all, nil
}

func (c *CheckpointStore) save(all map[string]Checkpoint) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации контрольных точек: %w", err)
	}

	// Запись через временный файл: частично записанный файл не должен
	// испортить контрольные точки при падении процесса.
	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("ошибка создания директории контрольных точек: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("ошибка записи контрольных точек: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("ошибка сохранения контрольных точек: %w", err)
	}
	return nil
}
