package core

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OrderNumberGenerator func(now time.Time) string

// NewOrderNumber renders ORD-<last 6 digits of unix millis>-<4 base36 chars>.
func NewOrderNumber(now time.Time) string {
	millis := fmt.Sprintf("%d", now.UnixMilli())
	if len(millis) > 6 {
		millis = millis[len(millis)-6:]
	}
	id := uuid.New()
	suffix := strings.ToUpper(new(big.Int).SetBytes(id[:8]).Text(36))
	for len(suffix) < 4 {
		suffix = "0" + suffix
	}
	return "ORD-" + millis + "-" + suffix[len(suffix)-4:]
}

func InvoiceNumberFor(orderNumber string) string {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return "INV-" + fmt.Sprintf("%d", time.Now().UTC().UnixMilli())
	}
	return "INV-" + strings.TrimPrefix(orderNumber, "ORD-")
}
