package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/exp/slog"

	"medsync/internal/domain/document"
)

// apiEnvelope — конверт ответа удаленного API: {success, data, pagination}.
type apiEnvelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Pagination *apiPagination  `json:"pagination,omitempty"`
}

type apiPagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type apiClient struct {
	client    *http.Client
	log       *slog.Logger
	baseURL   string
	userAgent string
}

func newAPIClient(baseURL string, timeout time.Duration, log *slog.Logger) *apiClient {
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 10,
		},
	}

	return &apiClient{
		client:    client,
		log:       log,
		baseURL:   baseURL,
		userAgent: "MedSync-Client/1.0",
	}
}

// Health проверяет доступность сервера. Используется монитором сети как проба.
func (c *apiClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", document.ErrOffline, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: сервер вернул статус %d", document.ErrOffline, resp.StatusCode)
	}
	return nil
}

// List возвращает документы коллекции, измененные после since,
// в порядке возрастания updatedAt (равные метки упорядочены по id),
// не более limit штук. sinceID включает в выдачу документы с updatedAt,
// равным since, но с большим идентификатором.
func (c *apiClient) List(ctx context.Context, collection string, since time.Time, sinceID string, limit int) ([]*document.Document, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
		if sinceID != "" {
			q.Set("sinceId", sinceID)
		}
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.list(ctx, collection, q)
}

// Query возвращает документы коллекции по фильтрам равенства
// (серверная фильтрация по scope-идентификаторам роли).
func (c *apiClient) Query(ctx context.Context, collection string, filters map[string]string) ([]*document.Document, error) {
	q := url.Values{}
	for k, v := range filters {
		q.Set(k, v)
	}
	return c.list(ctx, collection, q)
}

func (c *apiClient) list(ctx context.Context, collection string, q url.Values) ([]*document.Document, error) {
	path := "/api/" + collection
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}

	var docs []*document.Document
	if err := c.parseResponse(resp, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Get возвращает авторитетную серверную версию документа.
func (c *apiClient) Get(ctx context.Context, collection, id string) (*document.Document, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/"+collection+"/"+id, nil, "")
	if err != nil {
		return nil, err
	}

	var doc document.Document
	if err := c.parseResponse(resp, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Create создает документ на сервере. Ключ идемпотентности (временный
// идентификатор) защищает от дублей при повторном выполнении пуша.
func (c *apiClient) Create(ctx context.Context, collection string, payload map[string]any, idempotencyKey string) (*document.Document, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/"+collection, payload, idempotencyKey)
	if err != nil {
		return nil, err
	}

	var doc document.Document
	if err := c.parseResponse(resp, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Update обновляет документ на сервере целиком.
func (c *apiClient) Update(ctx context.Context, collection, id string, payload map[string]any) (*document.Document, error) {
	resp, err := c.doRequest(ctx, http.MethodPut, "/api/"+collection+"/"+id, payload, "")
	if err != nil {
		return nil, err
	}

	var doc document.Document
	if err := c.parseResponse(resp, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Delete удаляет документ на сервере.
func (c *apiClient) Delete(ctx context.Context, collection, id string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, "/api/"+collection+"/"+id, nil, "")
	if err != nil {
		return err
	}
	return c.parseResponse(resp, nil)
}

func (c *apiClient) doRequest(ctx context.Context, method, path string, body any, idempotencyKey string) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	c.log.Debug("Отправка запроса",
		"method", method,
		"url", req.URL.String(),
	)

	resp, err := c.client.Do(req)
	if err != nil {
		// Обрыв сети и таймаут трактуются одинаково: офлайн, не доменная ошибка.
		return nil, fmt.Errorf("%w: %v", document.ErrOffline, err)
	}

	return resp, nil
}

func (c *apiClient) parseResponse(resp *http.Response, result any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", document.ErrOffline, err)
	}

	c.log.Debug("Получен ответ",
		"status", resp.StatusCode,
		"bytes", len(body),
	)

	if resp.StatusCode >= http.StatusInternalServerError {
		// 5xx считаем временным сбоем: повторим с бэкоффом.
		return fmt.Errorf("%w: сервер вернул статус %d", document.ErrOffline, resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %s", document.ErrConflict, envelope.Error)
	}

	if resp.StatusCode >= http.StatusBadRequest || !envelope.Success {
		if envelope.Error != "" {
			return fmt.Errorf("%w: %s", document.ErrRemoteRejected, envelope.Error)
		}
		return fmt.Errorf("%w: статус %d", document.ErrRemoteRejected, resp.StatusCode)
	}

	if result != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, result); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}

	return nil
}

// isTransient сообщает, стоит ли повторять операцию после ошибки.
func isTransient(err error) bool {
	return errors.Is(err, document.ErrOffline)
}
