package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// BuildDSN constructs a sqlite DSN with every pragma embedded in the
// connection string rather than issued via a separate Exec call. Pragmas
// issued post-open only apply to the connection that ran them; since
// database/sql pools multiple connections, a pragma set that way is not
// guaranteed to reach every connection under concurrent access. Embedding
// them in the DSN applies them to each new connection as it is opened.
func BuildDSN(path string) string {
	v := url.Values{}
	v.Set("_pragma", "journal_mode(WAL)")
	v.Add("_pragma", "foreign_keys(ON)")
	v.Add("_pragma", "busy_timeout(30000)")
	v.Add("_pragma", "synchronous(NORMAL)")
	return fmt.Sprintf("file:%s?%s", path, v.Encode())
}

// Open opens (creating if necessary) the sqlite database at path and
// brings it up to the latest schema.
func Open(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	database, err := sql.Open("sqlite", BuildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := Migrate(database); err != nil {
		_ = database.Close()
		return nil, err
	}

	return database, nil
}
