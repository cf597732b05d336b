package tracing

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// SQLiteTraceWriter is a writer that writes records to a SQLite database.
type SQLiteTraceWriter struct {
	*sql.DB

	mu        sync.Mutex
	statement *sql.Stmt
	dbName    string
	records   []Record
	batchSize int
}

// NewSQLiteTraceWriter creates a new SQLiteTraceWriter. The ".sqlite3"
// extension is appended to the path. An empty path picks a unique name.
func NewSQLiteTraceWriter(path string) *SQLiteTraceWriter {
	w := &SQLiteTraceWriter{
		dbName:    path,
		batchSize: 100000,
	}

	atexit.Register(func() { w.Close() })

	return w
}

// Path returns the name of the database file, without the extension.
func (t *SQLiteTraceWriter) Path() string {
	return t.dbName
}

// Init creates the database and the trace table.
func (t *SQLiteTraceWriter) Init() {
	t.createDatabase()
	t.createTable()
	t.prepareStatement()
}

// Write buffers a record. Full batches are written immediately.
func (t *SQLiteTraceWriter) Write(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = append(t.records, r)
	if len(t.records) >= t.batchSize {
		t.flush()
	}
}

// Flush writes all the buffered records to the database.
func (t *SQLiteTraceWriter) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.flush()
}

// Close flushes the records and closes the database.
func (t *SQLiteTraceWriter) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.DB == nil {
		return
	}

	t.flush()

	err := t.statement.Close()
	if err != nil {
		panic(err)
	}

	err = t.DB.Close()
	if err != nil {
		panic(err)
	}

	t.DB = nil
}

func (t *SQLiteTraceWriter) flush() {
	if len(t.records) == 0 || t.DB == nil {
		return
	}

	tx, err := t.Begin()
	if err != nil {
		panic(err)
	}

	stmt := tx.Stmt(t.statement)
	for _, r := range t.records {
		_, err := stmt.Exec(
			int(r.Partition),
			r.What,
			int64(r.Now),
			int64(r.Time),
			int64(r.Seq),
			int64(r.Target),
			int(r.Layer),
			int(r.Kind),
			r.Mode.String(),
			r.Instance,
			r.Remote,
			int(r.Dest),
			r.Detail,
		)
		if err != nil {
			fmt.Printf("Failed to insert record: %+v\n", r)
			panic(err)
		}
	}

	err = tx.Commit()
	if err != nil {
		panic(err)
	}

	t.records = nil
}

func (t *SQLiteTraceWriter) createDatabase() {
	if t.dbName == "" {
		t.dbName = "pdes_trace_" + xid.New().String()
	}

	filename := t.dbName + ".sqlite3"
	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	db.SetMaxOpenConns(1)
	t.DB = db
}

func (t *SQLiteTraceWriter) createTable() {
	t.mustExecute(`
		create table trace
		(
			partition_id integer   not null,
			what      varchar(16)  not null,
			now       integer      not null,
			time      integer      not null,
			seq       integer      not null,
			target    integer      not null,
			layer     integer      not null,
			kind      integer      not null,
			mode      varchar(16)  not null,
			instance  integer      not null,
			remote    boolean      not null,
			dest      integer      not null,
			detail    varchar(200) default ''
		);
	`)

	t.mustExecute(`
		create index trace_time_index
			on trace (time);
	`)

	t.mustExecute(`
		create index trace_partition_index
			on trace (partition_id);
	`)

	t.mustExecute(`
		create index trace_what_index
			on trace (what);
	`)
}

func (t *SQLiteTraceWriter) prepareStatement() {
	sqlStr := `
		INSERT INTO trace
		(
			partition_id, what, now, time, seq, target, layer, kind, mode,
			instance, remote, dest, detail
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	stmt, err := t.Prepare(sqlStr)
	if err != nil {
		panic(err)
	}

	t.statement = stmt
}

func (t *SQLiteTraceWriter) mustExecute(query string) sql.Result {
	res, err := t.Exec(query)
	if err != nil {
		fmt.Printf("Failed to execute: %s\n", query)
		panic(err)
	}
	return res
}
