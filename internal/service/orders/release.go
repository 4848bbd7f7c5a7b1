package orders

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// releaseSummary описывает возврат остатка для истории заказа.
func releaseSummary(releases []domain.Release) string {
	parts := make([]string, 0, len(releases))
	for _, rel := range releases {
		part := fmt.Sprintf("product %d: +%d", rel.ProductID, rel.Released)
		if rel.Clamped > 0 {
			part += fmt.Sprintf(" (clamped %d)", rel.Clamped)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
