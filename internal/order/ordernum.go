package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewOrderNumber generates an order number like SO-1756713600000-1a2b3c4d.
// Collisions are possible in theory; the unique index on order_number plus
// one retry in the allocator guarantees uniqueness before commit.
func NewOrderNumber() string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("SO-%d-%s", time.Now().UnixMilli(), suffix)
}
