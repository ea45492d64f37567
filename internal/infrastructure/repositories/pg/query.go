package pg

import (
	"fmt"

	"oidkeeper/internal/domain/ports"
)

// buildSelect renders the SQL of a query; the limit is pushed down only when no filter runs afterwards
func buildSelect(spec ports.QuerySpec, pushLimit bool) (string, []any) {
	query := `
		SELECT pkey, data, seq, updated_at, updated_by
		FROM ` + TblObjects.Qualified() + `
		WHERE type_tag = $1`
	args := []any{spec.TypeTag}

	if s, ok := spec.Scope.(ports.OidScope); ok && !s.IsEmpty() {
		args = append(args, s.PrimaryKeys(spec.TypeTag))
		query += fmt.Sprintf(" AND pkey = ANY($%d)", len(args))
	}
	query += " ORDER BY pkey"
	if pushLimit && spec.Limit > 0 {
		args = append(args, spec.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func scopeString(scope ports.Scope) string {
	if scope == nil {
		return ""
	}
	return scope.String()
}
