package target

import "strings"

// quotePGIdent safely quotes a PostgreSQL identifier, escaping embedded quotes.
func quotePGIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// qualifyPGTable returns "schema"."table", or just "table" without a schema.
func qualifyPGTable(schema, table string) string {
	if schema == "" {
		return quotePGIdent(table)
	}
	return quotePGIdent(schema) + "." + quotePGIdent(table)
}
