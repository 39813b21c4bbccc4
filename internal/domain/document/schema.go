package document

import (
	"fmt"
	"sort"
	"time"
)

// Kind — тип доменного поля для валидации.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// FieldDef описывает одно доменное поле коллекции.
type FieldDef struct {
	Name     string
	Kind     Kind
	Required bool
}

// Schema — схема коллекции. Валидация выполняется на каждой записи
// в локальное хранилище: невалидный документ отклоняется, а не сохраняется молча.
type Schema struct {
	Collection string
	Fields     []FieldDef
}

// Validate проверяет конверт и доменные поля документа.
// Любое нарушение возвращается как ErrSchemaViolation.
func (s Schema) Validate(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrSchemaViolation)
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: %s: empty id", ErrSchemaViolation, s.Collection)
	}
	if doc.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: %s/%s: empty updatedAt", ErrSchemaViolation, s.Collection, doc.ID)
	}
	switch doc.SyncStatus {
	case StatusSynced, StatusPending, StatusFailed:
	default:
		return fmt.Errorf("%w: %s/%s: bad syncStatus %q", ErrSchemaViolation, s.Collection, doc.ID, doc.SyncStatus)
	}

	for _, f := range s.Fields {
		v, ok := doc.Fields[f.Name]
		if !ok || v == nil {
			if f.Required {
				return fmt.Errorf("%w: %s/%s: missing required field %q", ErrSchemaViolation, s.Collection, doc.ID, f.Name)
			}
			continue
		}
		if err := checkKind(v, f.Kind); err != nil {
			return fmt.Errorf("%w: %s/%s: field %q: %v", ErrSchemaViolation, s.Collection, doc.ID, f.Name, err)
		}
	}
	return nil
}

// ValidateFields проверяет только доменные поля — используется на границе
// шлюза записи до того, как из payload собран полный конверт.
func (s Schema) ValidateFields(fields map[string]any) error {
	for _, f := range s.Fields {
		v, ok := fields[f.Name]
		if !ok || v == nil {
			if f.Required {
				return fmt.Errorf("%w: %s: missing required field %q", ErrSchemaViolation, s.Collection, f.Name)
			}
			continue
		}
		if err := checkKind(v, f.Kind); err != nil {
			return fmt.Errorf("%w: %s: field %q: %v", ErrSchemaViolation, s.Collection, f.Name, err)
		}
	}
	return nil
}

func checkKind(v any, kind Kind) error {
	switch kind {
	case KindString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("want string, got %T", v)
		}
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int64, int32:
		default:
			return fmt.Errorf("want number, got %T", v)
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
	case KindTime:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want RFC3339 string, got %T", v)
		}
		if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				return fmt.Errorf("bad timestamp %q", s)
			}
		}
	}
	return nil
}

// Registry — реестр схем по имени коллекции.
type Registry struct {
	schemas map[string]Schema
}

func NewRegistry(schemas ...Schema) *Registry {
	r := &Registry{schemas: make(map[string]Schema, len(schemas))}
	for _, s := range schemas {
		r.schemas[s.Collection] = s
	}
	return r
}

// Get возвращает схему коллекции или ErrUnknownCollection.
func (r *Registry) Get(collection string) (Schema, error) {
	s, ok := r.schemas[collection]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return s, nil
}

// Collections возвращает имена всех зарегистрированных коллекций в стабильном порядке.
func (r *Registry) Collections() []string {
	out := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate находит схему коллекции и проверяет документ.
func (r *Registry) Validate(collection string, doc *Document) error {
	s, err := r.Get(collection)
	if err != nil {
		return err
	}
	return s.Validate(doc)
}
