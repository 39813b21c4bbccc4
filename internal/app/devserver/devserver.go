// Package devserver — учебный сервер дашборда для локальной разработки
// и ручной проверки офлайн-сценариев. Хранит документы в памяти и
// реализует тот же HTTP-контракт, что и боевой сервер: конверт
// {success, data}, инкрементальная выдача по since, идемпотентные
// создания и отказ 409 на устаревшие правки.
package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	gosync "sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"

	"medsync/internal/domain/document"
)

type Server struct {
	registry *document.Registry
	log      *slog.Logger

	mu       gosync.Mutex
	docs     map[string]map[string]*document.Document
	idemKeys map[string]string
	nextID   int
}

func New(registry *document.Registry, log *slog.Logger) *Server {
	return &Server{
		registry: registry,
		log:      log,
		docs:     make(map[string]map[string]*document.Document),
		idemKeys: make(map[string]string),
	}
}

// Router собирает chi-роутер со всеми операциями API.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Route("/api/{collection}", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Get("/{id}", s.handleGet)
		r.Put("/{id}", s.handleUpdate)
		r.Delete("/{id}", s.handleDelete)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	collection, err := s.collection(r)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		since, err = time.Parse(time.RFC3339Nano, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("неверный параметр since: %w", err))
			return
		}
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("неверный параметр limit"))
			return
		}
	}
	sinceID := r.URL.Query().Get("sinceId")

	s.mu.Lock()
	out := make([]*document.Document, 0)
	for _, doc := range s.docs[collection] {
		if !afterCheckpoint(doc, since, sinceID) {
			continue
		}
		if !matchQuery(doc, r.URL.Query()) {
			continue
		}
		out = append(out, doc.Clone())
	}
	s.mu.Unlock()

	// Выдача по возрастанию updatedAt, равные метки — по id: клиент двигает
	// по этой паре контрольную точку, порядок обязан быть тотальным.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: mustMarshal(out)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	collection, err := s.collection(r)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	doc := s.docs[collection][id]
	if doc != nil {
		doc = doc.Clone()
	}
	s.mu.Unlock()

	if doc == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("документ %s не найден", id))
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: mustMarshal(doc)})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	collection, err := s.collection(r)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	fields, err := decodeFields(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	schema, _ := s.registry.Get(collection)
	if err := schema.ValidateFields(fields); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Идемпотентное создание: повторный запрос с тем же ключом возвращает
	// уже выданный документ, а не создает дубликат.
	key := r.Header.Get("X-Idempotency-Key")
	if key != "" {
		if issued, ok := s.idemKeys[key]; ok {
			s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: mustMarshal(s.docs[collection][issued])})
			return
		}
	}

	now := time.Now().UTC()
	s.nextID++
	doc := &document.Document{
		ID:         fmt.Sprintf("%s_%d", collection, s.nextID),
		Fields:     fields,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: document.StatusSynced,
	}

	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]*document.Document)
	}
	s.docs[collection][doc.ID] = doc
	if key != "" {
		s.idemKeys[key] = doc.ID
	}

	s.log.Info("Документ создан", "collection", collection, "id", doc.ID)
	s.writeJSON(w, http.StatusCreated, envelope{Success: true, Data: mustMarshal(doc)})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	collection, err := s.collection(r)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	id := chi.URLParam(r, "id")

	body := make(map[string]any)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("неверное тело запроса: %w", err))
		return
	}
	fields := stripServiceKeys(body)

	schema, _ := s.registry.Get(collection)
	if err := schema.ValidateFields(fields); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.docs[collection][id]
	if existing == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("документ %s не найден", id))
		return
	}

	// Отказ по устареванию: присланная версия старше серверной.
	if v, ok := body["updatedAt"].(string); ok {
		incoming, err := time.Parse(time.RFC3339Nano, v)
		if err == nil && existing.UpdatedAt.After(incoming) {
			s.writeError(w, http.StatusConflict, fmt.Errorf("правка устарела, серверная версия новее"))
			return
		}
	}

	updated := &document.Document{
		ID:         id,
		Fields:     fields,
		CreatedAt:  existing.CreatedAt,
		UpdatedAt:  time.Now().UTC(),
		SyncStatus: document.StatusSynced,
	}
	s.docs[collection][id] = updated

	s.log.Info("Документ обновлен", "collection", collection, "id", id)
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: mustMarshal(updated)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	collection, err := s.collection(r)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	_, ok := s.docs[collection][id]
	delete(s.docs[collection], id)
	s.mu.Unlock()

	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("документ %s не найден", id))
		return
	}

	s.log.Info("Документ удален", "collection", collection, "id", id)
	s.writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) collection(r *http.Request) (string, error) {
	name := chi.URLParam(r, "collection")
	if _, err := s.registry.Get(name); err != nil {
		return "", err
	}
	return name, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.log.Error("Ошибка записи ответа", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, envelope{Success: false, Error: err.Error()})
}

func decodeFields(r *http.Request) (map[string]any, error) {
	body := make(map[string]any)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("неверное тело запроса: %w", err)
	}
	return stripServiceKeys(body), nil
}

// stripServiceKeys убирает служебные ключи конверта: сервер сам ведет
// временные метки и никогда не принимает syncStatus или meta от клиента.
func stripServiceKeys(body map[string]any) map[string]any {
	fields := make(map[string]any, len(body))
	for k, v := range body {
		switch k {
		case "id", "createdAt", "updatedAt", "syncStatus", "meta":
		default:
			fields[k] = v
		}
	}
	return fields
}

// afterCheckpoint отбирает документы за контрольной точкой (since, sinceID):
// либо метка времени строго больше, либо равна, но идентификатор больше.
func afterCheckpoint(doc *document.Document, since time.Time, sinceID string) bool {
	if doc.UpdatedAt.After(since) {
		return true
	}
	return sinceID != "" && doc.UpdatedAt.Equal(since) && doc.ID > sinceID
}

func matchQuery(doc *document.Document, q map[string][]string) bool {
	for key, vals := range q {
		if key == "since" || key == "sinceId" || key == "limit" || len(vals) == 0 {
			continue
		}
		if key == "id" {
			if doc.ID != vals[0] {
				return false
			}
			continue
		}
		got, ok := doc.Fields[key]
		if !ok || fmt.Sprintf("%v", got) != vals[0] {
			return false
		}
	}
	return true
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
