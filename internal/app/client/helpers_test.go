package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"medsync/internal/domain/document"
	"medsync/internal/utils/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := OpenStore(path, document.DefaultRegistry(), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testAppointment(id string, updatedAt time.Time) *document.Document {
	return &document.Document{
		ID:         id,
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
		SyncStatus: document.StatusSynced,
		Fields: map[string]any{
			"patientId":       "pat_1",
			"doctorId":        "doc_1",
			"hospitalId":      "hosp_1",
			"appointmentDate": updatedAt.Format(time.RFC3339),
			"status":          "Scheduled",
		},
	}
}

// fakeRemote — тестовый сервер удаленного API с конвертом {success, data}.
type fakeRemote struct {
	t  *testing.T
	mu gosync.Mutex

	docs        map[string]map[string]*document.Document // collection -> id -> doc
	idemKeys    map[string]string                        // idempotency key -> issued id
	nextID      int
	failCreates bool // отвечать 422 на create
	down        bool // имитация обрыва сети (500)

	creates int
	updates int
	lists   int
}

func newFakeRemote(t *testing.T) *fakeRemote {
	return &fakeRemote{
		t:        t,
		docs:     make(map[string]map[string]*document.Document),
		idemKeys: make(map[string]string),
	}
}

func (f *fakeRemote) put(collection string, doc *document.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs[collection] == nil {
		f.docs[collection] = make(map[string]*document.Document)
	}
	f.docs[collection][doc.ID] = doc
}

func (f *fakeRemote) get(collection, id string) *document.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[collection][id]
}

func (f *fakeRemote) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		down := f.down
		f.mu.Unlock()
		if down {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeEnvelope(w, http.StatusOK, true, nil, "")
	})
	mux.HandleFunc("/api/", f.handleAPI)

	srv := httptest.NewServer(mux)
	f.t.Cleanup(srv.Close)
	return srv
}

func (f *fakeRemote) handleAPI(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if f.down {
		f.mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	f.mu.Unlock()

	// /api/{collection} или /api/{collection}/{id}
	rest := r.URL.Path[len("/api/"):]
	collection, id := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		collection, id = rest[:i], rest[i+1:]
	}

	switch {
	case r.Method == http.MethodGet && id == "":
		f.handleList(w, r, collection)
	case r.Method == http.MethodGet:
		f.handleGet(w, collection, id)
	case r.Method == http.MethodPost:
		f.handleCreate(w, r, collection)
	case r.Method == http.MethodPut:
		f.handleUpdate(w, r, collection, id)
	case r.Method == http.MethodDelete:
		f.handleDelete(w, collection, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeRemote) handleList(w http.ResponseWriter, r *http.Request, collection string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++

	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		since, _ = time.Parse(time.RFC3339Nano, s)
	}
	sinceID := r.URL.Query().Get("sinceId")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, _ = strconv.Atoi(s)
	}

	var out []*document.Document
	for _, doc := range f.docs[collection] {
		afterCP := doc.UpdatedAt.After(since) ||
			(sinceID != "" && doc.UpdatedAt.Equal(since) && doc.ID > sinceID)
		if !afterCP {
			continue
		}
		if !matchFilters(doc, r.URL.Query()) {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	writeEnvelope(w, http.StatusOK, true, out, "")
}

func matchFilters(doc *document.Document, q map[string][]string) bool {
	for key, vals := range q {
		if key == "since" || key == "sinceId" || key == "limit" {
			continue
		}
		want := vals[0]
		if key == "id" {
			if doc.ID != want {
				return false
			}
			continue
		}
		got, ok := doc.Fields[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (f *fakeRemote) handleGet(w http.ResponseWriter, collection, id string) {
	f.mu.Lock()
	doc := f.docs[collection][id]
	f.mu.Unlock()

	if doc == nil {
		writeEnvelope(w, http.StatusNotFound, false, nil, "not found")
		return
	}
	writeEnvelope(w, http.StatusOK, true, doc, "")
}

func (f *fakeRemote) handleCreate(w http.ResponseWriter, r *http.Request, collection string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++

	if f.failCreates {
		writeEnvelope(w, http.StatusUnprocessableEntity, false, nil, "validation failed")
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, nil, "bad json")
		return
	}

	// Идемпотентное создание: повторный запрос с тем же ключом
	// возвращает уже выданный документ.
	key := r.Header.Get("X-Idempotency-Key")
	if key != "" {
		if issued, ok := f.idemKeys[key]; ok {
			writeEnvelope(w, http.StatusOK, true, f.docs[collection][issued], "")
			return
		}
	}

	f.nextID++
	doc := &document.Document{
		ID:         "srv_" + strconv.Itoa(f.nextID),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
		SyncStatus: document.StatusSynced,
		Fields:     stripEnvelope(fields),
	}
	if f.docs[collection] == nil {
		f.docs[collection] = make(map[string]*document.Document)
	}
	f.docs[collection][doc.ID] = doc
	if key != "" {
		f.idemKeys[key] = doc.ID
	}

	writeEnvelope(w, http.StatusCreated, true, doc, "")
}

func (f *fakeRemote) handleUpdate(w http.ResponseWriter, r *http.Request, collection, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++

	existing := f.docs[collection][id]
	if existing == nil {
		writeEnvelope(w, http.StatusNotFound, false, nil, "not found")
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, nil, "bad json")
		return
	}

	// Отказ по устареванию: серверная копия новее присланной.
	if s, ok := fields["updatedAt"].(string); ok {
		incoming, err := time.Parse(time.RFC3339Nano, s)
		if err == nil && existing.UpdatedAt.After(incoming) {
			writeEnvelope(w, http.StatusConflict, false, nil, "stale update")
			return
		}
	}

	updated := &document.Document{
		ID:         id,
		CreatedAt:  existing.CreatedAt,
		UpdatedAt:  time.Now().UTC(),
		SyncStatus: document.StatusSynced,
		Fields:     stripEnvelope(fields),
	}
	f.docs[collection][id] = updated
	writeEnvelope(w, http.StatusOK, true, updated, "")
}

func (f *fakeRemote) handleDelete(w http.ResponseWriter, collection, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs[collection], id)
	writeEnvelope(w, http.StatusOK, true, nil, "")
}

func stripEnvelope(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case "id", "createdAt", "updatedAt", "syncStatus", "meta":
		default:
			out[k] = v
		}
	}
	return out
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, data any, errMsg string) {
	body := map[string]any{"success": success}
	if data != nil {
		body["data"] = data
	}
	if errMsg != "" {
		body["error"] = errMsg
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
