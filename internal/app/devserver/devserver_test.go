package devserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsync/internal/domain/document"
	"medsync/internal/utils/logger"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(New(document.DefaultRegistry(), logger.Discard()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body map[string]any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func patientBody() map[string]any {
	return map[string]any{
		"name":       "Сидорова А.А.",
		"hospitalId": "hosp_1",
	}
}

func TestServerHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, env := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
}

func TestServerCreateAndGet(t *testing.T) {
	srv := newTestServer(t)

	resp, env := doJSON(t, http.MethodPost, srv.URL+"/api/patients", patientBody(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, env.Success)

	var created document.Document
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.UpdatedAt.IsZero())

	resp, env = doJSON(t, http.MethodGet, srv.URL+"/api/patients/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got document.Document
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "Сидорова А.А.", got.Fields["name"])
}

func TestServerCreateValidation(t *testing.T) {
	srv := newTestServer(t)

	resp, env := doJSON(t, http.MethodPost, srv.URL+"/api/patients", map[string]any{"name": "Без госпиталя"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)
}

func TestServerUnknownCollection(t *testing.T) {
	srv := newTestServer(t)

	resp, env := doJSON(t, http.MethodGet, srv.URL+"/api/unicorns", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, env.Success)
}

func TestServerIdempotentCreate(t *testing.T) {
	srv := newTestServer(t)
	headers := map[string]string{"X-Idempotency-Key": "offline_123_abcd"}

	_, env := doJSON(t, http.MethodPost, srv.URL+"/api/patients", patientBody(), headers)
	var first document.Document
	require.NoError(t, json.Unmarshal(env.Data, &first))

	// Ретрай после обрыва связи: тот же ключ, тот же документ.
	resp, env := doJSON(t, http.MethodPost, srv.URL+"/api/patients", patientBody(), headers)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var second document.Document
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.Equal(t, first.ID, second.ID)
}

func TestServerUpdateStaleConflict(t *testing.T) {
	srv := newTestServer(t)

	_, env := doJSON(t, http.MethodPost, srv.URL+"/api/patients", patientBody(), nil)
	var created document.Document
	require.NoError(t, json.Unmarshal(env.Data, &created))

	// Правка с устаревшей временной меткой отклоняется.
	stale := patientBody()
	stale["updatedAt"] = created.UpdatedAt.Add(-time.Hour).Format(time.RFC3339Nano)
	resp, env := doJSON(t, http.MethodPut, srv.URL+"/api/patients/"+created.ID, stale, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, env.Success)

	// Свежая правка проходит.
	fresh := patientBody()
	fresh["name"] = "Сидорова Анна"
	fresh["updatedAt"] = time.Now().UTC().Add(time.Hour).Format(time.RFC3339Nano)
	resp, env = doJSON(t, http.MethodPut, srv.URL+"/api/patients/"+created.ID, fresh, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated document.Document
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "Сидорова Анна", updated.Fields["name"])
}

func TestServerListSince(t *testing.T) {
	srv := newTestServer(t)

	_, env := doJSON(t, http.MethodPost, srv.URL+"/api/patients", patientBody(), nil)
	var created document.Document
	require.NoError(t, json.Unmarshal(env.Data, &created))

	// Все документы.
	_, env = doJSON(t, http.MethodGet, srv.URL+"/api/patients", nil, nil)
	var all []*document.Document
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Len(t, all, 1)

	// После контрольной точки изменений нет.
	since := created.UpdatedAt.Format(time.RFC3339Nano)
	_, env = doJSON(t, http.MethodGet, srv.URL+"/api/patients?since="+since, nil, nil)
	var newer []*document.Document
	if env.Data != nil {
		require.NoError(t, json.Unmarshal(env.Data, &newer))
	}
	assert.Empty(t, newer)
}

func TestServerListSinceIDTiebreak(t *testing.T) {
	s := New(document.DefaultRegistry(), logger.Discard())
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	// Три документа с одинаковым updatedAt: выдача упорядочена по id,
	// а пара since+sinceId отдает хвост за границей партии.
	stamp := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.docs["patients"] = map[string]*document.Document{}
	for _, id := range []string{"patients_1", "patients_2", "patients_3"} {
		s.docs["patients"][id] = &document.Document{
			ID:         id,
			Fields:     map[string]any{"name": "Пациент", "hospitalId": "hosp_1"},
			CreatedAt:  stamp,
			UpdatedAt:  stamp,
			SyncStatus: document.StatusSynced,
		}
	}

	since := stamp.Format(time.RFC3339Nano)
	_, env := doJSON(t, http.MethodGet, srv.URL+"/api/patients?limit=2", nil, nil)
	var batch []*document.Document
	require.NoError(t, json.Unmarshal(env.Data, &batch))
	require.Len(t, batch, 2)
	assert.Equal(t, "patients_1", batch[0].ID)
	assert.Equal(t, "patients_2", batch[1].ID)

	_, env = doJSON(t, http.MethodGet, srv.URL+"/api/patients?since="+since+"&sinceId=patients_2", nil, nil)
	var tail []*document.Document
	require.NoError(t, json.Unmarshal(env.Data, &tail))
	require.Len(t, tail, 1)
	assert.Equal(t, "patients_3", tail[0].ID)

	// Без sinceId равные метки остаются за контрольной точкой.
	_, env = doJSON(t, http.MethodGet, srv.URL+"/api/patients?since="+since, nil, nil)
	var none []*document.Document
	if env.Data != nil {
		require.NoError(t, json.Unmarshal(env.Data, &none))
	}
	assert.Empty(t, none)
}

func TestServerDelete(t *testing.T) {
	srv := newTestServer(t)

	_, env := doJSON(t, http.MethodPost, srv.URL+"/api/patients", patientBody(), nil)
	var created document.Document
	require.NoError(t, json.Unmarshal(env.Data, &created))

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/patients/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/patients/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
