package db

import (
	"fmt"

	"gorm.io/gorm"
)

// Dialect identifiers supported by the database layer.
const (
	// DialectPostgres is the PostgreSQL dialect name.
	DialectPostgres = "postgres"
	// DialectSQLite is the SQLite dialect name.
	DialectSQLite = "sqlite"
)

// DialectName returns the active database dialect name.
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// IsSQLite reports whether the connection uses SQLite.
func IsSQLite(conn *gorm.DB) bool {
	return DialectName(conn) == DialectSQLite
}

// JSONArrayContainsExpr returns a SQL expression testing whether a JSON array
// column contains a value. The expression takes one bind parameter, produced
// by JSONArrayContainsValue.
func JSONArrayContainsExpr(conn *gorm.DB, column string) string {
	if IsSQLite(conn) {
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = ?)", column)
	}
	return fmt.Sprintf("%s @> ?", column)
}

// JSONArrayContainsValue formats a value for JSONArrayContainsExpr.
func JSONArrayContainsValue(conn *gorm.DB, value string) any {
	if IsSQLite(conn) {
		return value
	}
	return fmt.Sprintf("[%q]", value)
}

// JSONArrayReplaceExpr returns a SQL expression rewriting every occurrence of
// one string element inside a JSON array column. Takes two bind parameters:
// the old value and the new value.
func JSONArrayReplaceExpr(conn *gorm.DB, column string) string {
	if IsSQLite(conn) {
		return fmt.Sprintf(`(
			SELECT json_group_array(
				CASE WHEN json_each.value = ? THEN ? ELSE json_each.value END
			) FROM json_each(%s)
		)`, column)
	}
	return fmt.Sprintf(`(
		SELECT COALESCE(jsonb_agg(
			CASE WHEN elem = to_jsonb(?::text) THEN to_jsonb(?::text) ELSE elem END
		), '[]'::jsonb) FROM jsonb_array_elements(%s::jsonb) AS elem
	)`, column)
}
