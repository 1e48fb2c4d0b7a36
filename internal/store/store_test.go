package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	require.NoError(t, err, "Open(%s)", path)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpen_CreatesFile(t *testing.T) {
	_, path := openTemp(t)

	_, err := os.Stat(path)
	assert.NoError(t, err, "journal file missing after Open")
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open #%d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	var name string
	err = s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='mutations'",
	).Scan(&name)
	assert.NoError(t, err, "mutations table missing after reopen")
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/journal.db")
	assert.Error(t, err, "Open in a missing directory should fail")
}

func TestClose_ZeroValue(t *testing.T) {
	var s Store
	assert.NoError(t, s.Close())
}

func TestOpen_Pragmas(t *testing.T) {
	s, _ := openTemp(t)

	// synchronous NORMAL and foreign_keys ON read back as 1.
	pragmas := []struct{ name, want string }{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, p := range pragmas {
		assert.NoError(t, s.verifyPragma(p.name, p.want))
	}
}

func TestSchema_MutationColumns(t *testing.T) {
	s, _ := openTemp(t)

	cols := tableColumns(t, s.db, "mutations")
	assert.Subset(t, cols,
		[]string{"seq", "doc_id", "kind", "node_id", "port", "payload", "previous", "rev"})
}

func TestSchema_NodeIndex(t *testing.T) {
	s, _ := openTemp(t)

	assert.Contains(t, tableIndexes(t, s.db, "mutations"), "idx_mutations_node")
}

func TestMigrate_VersionStamped(t *testing.T) {
	s, _ := openTemp(t)

	assert.Equal(t, schemaVersion, userVersion(t, s.db))
}

func TestMigrate_RerunStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open #%d", i)
		assert.Equal(t, schemaVersion, userVersion(t, s.db), "open #%d", i)
		require.NoError(t, s.Close())
	}
}

func TestMigrate_FromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	// Lay down the tables by hand at version 0, the state of a file
	// written before the index migration existed.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err, "raw open")
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err, "raw schema")
	_, err = db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err, "reset user_version")
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err, "Open over v0 file")
	defer s.Close()

	assert.Equal(t, schemaVersion, userVersion(t, s.db), "migration must stamp the version")
	assert.Contains(t, tableIndexes(t, s.db, "mutations"), "idx_mutations_node",
		"migration must create the node index")
}

func userVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	var v int
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&v))
	return v
}

func tableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	require.NoError(t, err, "table_info(%s)", table)
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             any
		)
		require.NoError(t, rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk))
		cols = append(cols, name)
	}
	return cols
}

func tableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	require.NoError(t, err, "list indexes of %s", table)
	defer rows.Close()

	var idx []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		idx = append(idx, name)
	}
	return idx
}
