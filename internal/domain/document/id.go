package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OfflineIDPrefix — зарезервированный префикс временных идентификаторов.
// Документ с таким id создан офлайн и еще не принят сервером; по префиксу
// движок репликации отличает create от update, поэтому формат менять нельзя.
const OfflineIDPrefix = "offline_"

// NewOfflineID генерирует временный идентификатор: префикс, отметка времени
// и случайный суффикс. Суффикс заодно служит ключом идемпотентности при создании.
func NewOfflineID(now time.Time) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s%d_%s", OfflineIDPrefix, now.UnixMilli(), suffix)
}

// IsOfflineID сообщает, является ли идентификатор временным.
func IsOfflineID(id string) bool {
	return strings.HasPrefix(id, OfflineIDPrefix)
}
