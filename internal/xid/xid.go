package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"kasirinaja/terminal/internal/domain"
)

// LocalPrefix marks ids generated on a terminal that the server has not confirmed yet.
const LocalPrefix = "LOCAL-"

func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), strings.ReplaceAll(id.String(), "-", "")[:16])
}

// Provisional returns a local id such as LOCAL-VOID-3f9a1c2b7d4e.
func Provisional(kind domain.OperationKind) string {
	id, err := uuid.NewRandom()
	suffix := ""
	if err != nil {
		suffix = fmt.Sprintf("%x", time.Now().UnixNano())
	} else {
		suffix = strings.ReplaceAll(id.String(), "-", "")[:12]
	}
	return LocalPrefix + strings.ToUpper(string(kind)) + "-" + suffix
}

// QueueItemID returns the primary key for a sync queue record.
func QueueItemID() string {
	return uuid.NewString()
}
