package query

import (
	"fmt"
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_$]*`)

var readOnlyLeaders = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"SHOW":    true,
	"VALUES":  true,
	"TABLE":   true,
	"EXPLAIN": true,
}

// mutating lists keywords that make a statement write, lock, or change
// session state when they appear as words outside literals.
var mutating = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"MERGE":    true,
	"UPSERT":   true,
	"TRUNCATE": true,
	"DROP":     true,
	"ALTER":    true,
	"CREATE":   true,
	"GRANT":    true,
	"REVOKE":   true,
	"VACUUM":   true,
	"REINDEX":  true,
	"CLUSTER":  true,
	"COPY":     true,
	"CALL":     true,
	"LOCK":     true,
	"ANALYZE":  true,
	"INTO":     true,
}

// sideEffectFuncs are functions that act on the server even when called
// from a plain SELECT.
var sideEffectFuncs = map[string]bool{
	"PG_TERMINATE_BACKEND":    true,
	"PG_CANCEL_BACKEND":       true,
	"PG_RELOAD_CONF":          true,
	"PG_ROTATE_LOGFILE":       true,
	"PG_SWITCH_WAL":           true,
	"PG_CREATE_RESTORE_POINT": true,
	"PG_NOTIFY":               true,
	"SET_CONFIG":              true,
	"NEXTVAL":                 true,
	"SETVAL":                  true,
	"DBLINK":                  true,
	"DBLINK_EXEC":             true,
	"GET_LOCK":                true,
	"RELEASE_LOCK":            true,
	"RELEASE_ALL_LOCKS":       true,
	"OPENROWSET":              true,
	"OPENQUERY":               true,
	"OPENDATASOURCE":          true,
}

// sideEffectPrefixes cover function families such as pg_advisory_lock,
// pg_try_advisory_xact_lock and lo_unlink.
var sideEffectPrefixes = []string{"PG_ADVISORY_", "PG_TRY_ADVISORY_", "LO_"}

// dialect describes how one engine delimits literals and comments.
type dialect struct {
	name             string
	backslashEscapes bool // '...' and "..." honour \ escapes
	escapeStrings    bool // E'...' honours \ escapes
	dollarQuotes     bool // $tag$...$tag$
	nestedComments   bool
	hashComments     bool
	dashNeedsSpace   bool // "--" starts a comment only before whitespace
	backticks        bool
	brackets         bool
	execComments     bool // /*! ... */ is executed
}

var (
	postgresDialect = dialect{
		name:           "postgres",
		escapeStrings:  true,
		dollarQuotes:   true,
		nestedComments: true,
	}
	mysqlDialect = dialect{
		name:             "mysql",
		backslashEscapes: true,
		hashComments:     true,
		dashNeedsSpace:   true,
		backticks:        true,
		execComments:     true,
	}
	sqlserverDialect = dialect{
		name:           "sqlserver",
		nestedComments: true,
		brackets:       true,
	}
)

// dialectsFor returns the lexing rules for driver. An unknown or empty driver
// yields every dialect, and the query must pass under all of them.
func dialectsFor(driver string) []dialect {
	switch driver {
	case "postgres", "postgresql", "pgx":
		return []dialect{postgresDialect}
	case "mysql":
		return []dialect{mysqlDialect}
	case "sqlserver", "mssql":
		return []dialect{sqlserverDialect}
	}
	return []dialect{postgresDialect, mysqlDialect, sqlserverDialect}
}

// CheckReadOnly rejects SQL that is not a single read-only statement for the
// given database driver.
// Probes run unattended against production databases, so anything that could
// write is refused before it reaches a connection.
func CheckReadOnly(driver, sql string) error {
	for _, d := range dialectsFor(driver) {
		stripped, err := d.strip(sql)
		if err != nil {
			return err
		}
		if err := checkStatement(stripped); err != nil {
			return err
		}
	}
	return nil
}

func checkStatement(stripped string) error {
	stripped = strings.TrimSpace(stripped)
	stripped = strings.TrimRight(stripped, "; \t\n\r")

	if stripped == "" {
		return fmt.Errorf("query has no statement")
	}
	if strings.Contains(stripped, ";") {
		return fmt.Errorf("query must contain a single statement")
	}

	locs := wordPattern.FindAllStringIndex(stripped, -1)
	if len(locs) == 0 {
		return fmt.Errorf("query has no statement")
	}
	words := make([]string, len(locs))
	for i, loc := range locs {
		words[i] = strings.ToUpper(stripped[loc[0]:loc[1]])
	}
	if !readOnlyLeaders[words[0]] {
		return fmt.Errorf("query must start with SELECT, WITH, SHOW, VALUES, TABLE or EXPLAIN, got %s", words[0])
	}
	for i := 1; i < len(words); i++ {
		w := words[i]
		if mutating[w] {
			return fmt.Errorf("query is not read-only: contains %s", w)
		}
		// SELECT ... FOR SHARE takes row locks.
		if w == "SHARE" && words[i-1] == "FOR" {
			return fmt.Errorf("query is not read-only: contains FOR SHARE")
		}
		if isCall(stripped, locs[i][1]) && hasSideEffects(w) {
			return fmt.Errorf("query is not read-only: calls %s", strings.ToLower(w))
		}
	}
	return nil
}

func isCall(s string, end int) bool {
	rest := strings.TrimLeft(s[end:], " \t\r\n")
	return strings.HasPrefix(rest, "(")
}

func hasSideEffects(fn string) bool {
	if sideEffectFuncs[fn] {
		return true
	}
	for _, p := range sideEffectPrefixes {
		if strings.HasPrefix(fn, p) {
			return true
		}
	}
	return false
}

// strip walks sql once from left to right, replacing every literal and quoted
// identifier with '' and every comment with a space. What remains is the
// statement text the engine would parse as code.
func (d dialect) strip(sql string) (string, error) {
	var b strings.Builder
	b.Grow(len(sql))
	for i := 0; i < len(sql); {
		c := sql[i]
		var next byte
		if i+1 < len(sql) {
			next = sql[i+1]
		}
		switch {
		case c == '\'':
			end, err := d.closeQuote(sql, i, '\'', d.backslashEscapes || d.escapePrefixed(sql, i))
			if err != nil {
				return "", err
			}
			b.WriteString("''")
			i = end
			continue
		case c == '"':
			end, err := d.closeQuote(sql, i, '"', d.backslashEscapes)
			if err != nil {
				return "", err
			}
			b.WriteString("''")
			i = end
			continue
		case c == '`' && d.backticks:
			end, err := d.closeQuote(sql, i, '`', false)
			if err != nil {
				return "", err
			}
			b.WriteString("''")
			i = end
			continue
		case c == '[' && d.brackets:
			end, err := d.closeQuote(sql, i, ']', false)
			if err != nil {
				return "", err
			}
			b.WriteString("''")
			i = end
			continue
		case c == '-' && next == '-' && d.dashComment(sql, i):
			i = lineEnd(sql, i)
			b.WriteByte(' ')
			continue
		case c == '#' && d.hashComments:
			i = lineEnd(sql, i)
			b.WriteByte(' ')
			continue
		case c == '/' && next == '*':
			if d.execComments && i+2 < len(sql) && sql[i+2] == '!' {
				return "", fmt.Errorf("query contains an executable %s comment", d.name)
			}
			end, err := d.closeComment(sql, i)
			if err != nil {
				return "", err
			}
			b.WriteByte(' ')
			i = end
			continue
		case c == '$' && d.dollarQuotes:
			if tag := dollarTag(sql, i); tag != "" {
				body := strings.Index(sql[i+len(tag):], tag)
				if body < 0 {
					return "", fmt.Errorf("query has an unterminated %s literal", tag)
				}
				b.WriteString("''")
				i += len(tag) + body + len(tag)
				continue
			}
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), nil
}

// closeQuote returns the offset just past the quote closing the literal that
// opens at start. A doubled closing quote is an escaped one.
func (d dialect) closeQuote(sql string, start int, closing byte, backslash bool) (int, error) {
	for j := start + 1; j < len(sql); j++ {
		switch {
		case backslash && sql[j] == '\\':
			j++
		case sql[j] == closing:
			if j+1 < len(sql) && sql[j+1] == closing {
				j++
				continue
			}
			return j + 1, nil
		}
	}
	return 0, fmt.Errorf("query has an unterminated %c literal", sql[start])
}

func (d dialect) closeComment(sql string, start int) (int, error) {
	depth := 1
	for j := start + 2; j+1 < len(sql); {
		switch {
		case d.nestedComments && sql[j] == '/' && sql[j+1] == '*':
			depth++
			j += 2
		case sql[j] == '*' && sql[j+1] == '/':
			depth--
			j += 2
			if depth == 0 {
				return j, nil
			}
		default:
			j++
		}
	}
	return 0, fmt.Errorf("query has an unterminated comment")
}

func (d dialect) dashComment(sql string, i int) bool {
	if !d.dashNeedsSpace || i+2 >= len(sql) {
		return true
	}
	c := sql[i+2]
	return c <= ' '
}

// escapePrefixed reports whether the quote at i opens an E'...' string.
func (d dialect) escapePrefixed(sql string, i int) bool {
	if !d.escapeStrings || i == 0 || (sql[i-1] != 'E' && sql[i-1] != 'e') {
		return false
	}
	return i == 1 || !isWordByte(sql[i-2])
}

// dollarTag returns the $tag$ opening a dollar-quoted literal at i, or "".
// Positional parameters such as $1 are not tags.
func dollarTag(sql string, i int) string {
	if i > 0 && isWordByte(sql[i-1]) {
		return ""
	}
	for j := i + 1; j < len(sql); j++ {
		c := sql[j]
		switch {
		case c == '$':
			return sql[i : j+1]
		case c == '_' || ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z'):
		case '0' <= c && c <= '9' && j > i+1:
		default:
			return ""
		}
	}
	return ""
}

func lineEnd(sql string, i int) int {
	if n := strings.IndexByte(sql[i:], '\n'); n >= 0 {
		return i + n
	}
	return len(sql)
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9')
}
