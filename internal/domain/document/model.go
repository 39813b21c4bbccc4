package document

import (
	"encoding/json"
	"time"
)

// SyncStatus — состояние синхронизации документа
type SyncStatus string

const (
	StatusSynced  SyncStatus = "synced"
	StatusPending SyncStatus = "pending"
	StatusFailed  SyncStatus = "failed"
)

// Meta — локальные служебные поля документа.
// Никогда не отправляются на сервер, используются для учета отложенных записей.
type Meta struct {
	Offline   bool       `json:"offline"`
	Pending   bool       `json:"pending"`
	CreatedAt time.Time  `json:"createdAt"`
	SyncedAt  *time.Time `json:"syncedAt,omitempty"`
}

// Document — конверт документа коллекции. Доменные поля (patientId, status и т.д.)
// лежат в Fields и при сериализации поднимаются на верхний уровень JSON,
// как их отдает сервер.
type Document struct {
	ID         string
	Fields     map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
	SyncStatus SyncStatus
	Meta       Meta
}

// Зарезервированные ключи конверта, не являющиеся доменными полями.
var envelopeKeys = map[string]bool{
	"id":         true,
	"createdAt":  true,
	"updatedAt":  true,
	"syncStatus": true,
	"meta":       true,
}

func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+5)
	for k, v := range d.Fields {
		if !envelopeKeys[k] {
			out[k] = v
		}
	}
	out["id"] = d.ID
	out["createdAt"] = d.CreatedAt.UTC().Format(time.RFC3339Nano)
	out["updatedAt"] = d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	out["syncStatus"] = d.SyncStatus
	out["meta"] = d.Meta
	return json.Marshal(out)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = Document{Fields: make(map[string]any)}

	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &d.ID); err != nil {
			return err
		}
	}
	if v, ok := raw["createdAt"]; ok {
		if err := unmarshalTime(v, &d.CreatedAt); err != nil {
			return err
		}
	}
	if v, ok := raw["updatedAt"]; ok {
		if err := unmarshalTime(v, &d.UpdatedAt); err != nil {
			return err
		}
	}
	if v, ok := raw["syncStatus"]; ok {
		if err := json.Unmarshal(v, &d.SyncStatus); err != nil {
			return err
		}
	}
	if v, ok := raw["meta"]; ok {
		if err := json.Unmarshal(v, &d.Meta); err != nil {
			return err
		}
	}

	for k, v := range raw {
		if envelopeKeys[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		d.Fields[k] = val
	}

	// Документ, пришедший с сервера, по умолчанию считается синхронизированным.
	if d.SyncStatus == "" {
		d.SyncStatus = StatusSynced
	}

	return nil
}

func unmarshalTime(data json.RawMessage, t *time.Time) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Совместимость со старыми записями без долей секунды
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
	}
	*t = parsed
	return nil
}

// Clone возвращает глубокую копию документа (Fields копируется поверхностно
// по ключам — значения считаются неизменяемыми после записи).
func (d *Document) Clone() *Document {
	cp := *d
	cp.Fields = make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		cp.Fields[k] = v
	}
	return &cp
}

// RemotePayload собирает тело запроса для отправки на сервер:
// доменные поля и временные метки, без идентификатора и служебных полей.
func (d *Document) RemotePayload() map[string]any {
	out := make(map[string]any, len(d.Fields)+2)
	for k, v := range d.Fields {
		if !envelopeKeys[k] {
			out[k] = v
		}
	}
	out["createdAt"] = d.CreatedAt.UTC().Format(time.RFC3339Nano)
	out["updatedAt"] = d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return out
}

// Field возвращает доменное поле по имени.
func (d *Document) Field(name string) (any, bool) {
	v, ok := d.Fields[name]
	return v, ok
}
