package tracing

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// CSVTraceWriter stores records into a CSV file.
type CSVTraceWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer

	records    []Record
	bufferSize int
}

// NewCSVTraceWriter creates a new CSVTraceWriter. The ".csv" extension is
// appended to the path. An empty path picks a unique name.
func NewCSVTraceWriter(path string) *CSVTraceWriter {
	return &CSVTraceWriter{
		path:       path,
		bufferSize: 1000,
	}
}

// Path returns the name of the CSV file, without the extension.
func (t *CSVTraceWriter) Path() string {
	return t.path
}

// Init creates the tracing csv file. It refuses to overwrite an existing
// file.
func (t *CSVTraceWriter) Init() {
	if t.path == "" {
		t.path = "pdes_trace_" + xid.New().String()
	}

	filename := t.path + ".csv"
	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	file, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	t.file = file
	t.buf = bufio.NewWriter(file)

	fmt.Fprintf(t.buf,
		"Partition,What,Now,Time,Seq,Target,Layer,Kind,Mode,Instance,"+
			"Remote,Dest,Detail\n")

	atexit.Register(func() { t.Close() })
}

// Write buffers a record.
func (t *CSVTraceWriter) Write(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = append(t.records, r)
	if len(t.records) >= t.bufferSize {
		t.flush()
	}
}

// Flush writes the buffered records to the CSV file.
func (t *CSVTraceWriter) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.flush()
}

// Close flushes the records and closes the file.
func (t *CSVTraceWriter) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return
	}

	t.flush()

	err := t.file.Close()
	if err != nil {
		panic(err)
	}

	t.file = nil
}

func (t *CSVTraceWriter) flush() {
	if t.file == nil {
		return
	}

	for _, r := range t.records {
		fmt.Fprintf(t.buf, "%d,%s,%d,%d,%d,%d,%d,%d,%s,%d,%t,%d,%q\n",
			r.Partition,
			r.What,
			r.Now,
			r.Time,
			r.Seq,
			r.Target,
			r.Layer,
			r.Kind,
			r.Mode,
			r.Instance,
			r.Remote,
			r.Dest,
			r.Detail,
		)
	}

	err := t.buf.Flush()
	if err != nil {
		panic(err)
	}

	t.records = nil
}
