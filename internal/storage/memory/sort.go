package memory

import (
	"sort"

	"github.com/vladislavdragonenkov/wms/internal/domain"
)

// sortOrdersByCreatedDesc сортирует заказы: новые первыми, при равенстве — по ID.
func sortOrdersByCreatedDesc(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}
