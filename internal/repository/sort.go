package repository

import (
	"fmt"
	"strings"

	"parking-service/internal/domain/parking"
)

var ticketSortFields = map[string]bool{
	"id":           true,
	"entry_time":   true,
	"exit_time":    true,
	"plate_number": true,
	"camera_id":    true,
	"spot_number":  true,
	"created_at":   true,
}

var reviewSortFields = map[string]bool{
	"id":          true,
	"event_time":  true,
	"created_at":  true,
	"resolved_at": true,
	"camera_id":   true,
}

// sortField falls back to defaultField for anything outside the whitelist.
func sortField(field string, allowed map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(field)
	if trimmed == "" || !allowed[trimmed] {
		return defaultField
	}
	return trimmed
}

func orderClause(q parking.ListQuery, allowed map[string]bool, defaultField string) string {
	field := sortField(q.SortBy, allowed, defaultField)
	dir := parking.SortDesc
	if q.Direction == parking.SortAsc {
		dir = parking.SortAsc
	}
	if field == "id" {
		return fmt.Sprintf("id %s", dir)
	}
	return fmt.Sprintf("%s %s, id %s", field, dir, dir)
}
