package etl

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
)

// errBadRecord marks a single unreadable record; the pipeline counts it
// and keeps going.
var errBadRecord = errors.New("bad record")

type recordReader interface {
	// Read returns the next record or io.EOF.
	Read() (*InputRecord, error)
}

type recordWriter interface {
	Write(records []OutputRecord) error
	Close() error
}

func newReader(format FileFormat, r io.Reader, maxLine int) (recordReader, error) {
	switch format {
	case FormatCSV:
		return newCSVReader(r)
	case FormatJSON:
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLine)
		return &jsonReader{scanner: scanner}, nil
	case FormatParquet:
		ra, ok := r.(io.ReaderAt)
		if !ok {
			return nil, fmt.Errorf("parquet input must support random access")
		}
		return &parquetReader{reader: parquet.NewGenericReader[InputRecord](ra)}, nil
	default:
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
}

func newWriter(format FileFormat, w io.Writer) (recordWriter, error) {
	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"id", "redacted_text", "entities_found", "total_findings"}); err != nil {
			return nil, err
		}
		return &csvWriter{writer: cw}, nil
	case FormatJSON:
		bw := bufio.NewWriter(w)
		return &jsonWriter{buf: bw, enc: json.NewEncoder(bw)}, nil
	case FormatParquet:
		return &parquetWriter{writer: parquet.NewGenericWriter[parquetOutput](w)}, nil
	default:
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
}

// csvReader reads a header row naming at least a "text" column. Without an
// "id" column the 1-based row number is used.
type csvReader struct {
	reader  *csv.Reader
	idCol   int
	textCol int
	row     int
}

func newCSVReader(r io.Reader) (*csvReader, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cr := &csvReader{reader: reader, idCol: -1, textCol: -1}
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "id":
			cr.idCol = i
		case "text", "transcript":
			cr.textCol = i
		}
	}
	if cr.textCol < 0 {
		return nil, fmt.Errorf("CSV header has no text column: %v", header)
	}
	return cr, nil
}

func (c *csvReader) Read() (*InputRecord, error) {
	fields, err := c.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	c.row++
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("%w: row %d: %v", errBadRecord, c.row, err)
		}
		return nil, err
	}

	rec := &InputRecord{ID: strconv.Itoa(c.row), Text: fields[c.textCol]}
	if c.idCol >= 0 {
		rec.ID = strings.TrimSpace(fields[c.idCol])
	}
	return rec, nil
}

// jsonReader reads one JSON object per line, skipping blank lines.
type jsonReader struct {
	scanner *bufio.Scanner
	line    int
}

func (j *jsonReader) Read() (*InputRecord, error) {
	for j.scanner.Scan() {
		j.line++
		line := strings.TrimSpace(j.scanner.Text())
		if line == "" {
			continue
		}
		var rec InputRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", errBadRecord, j.line, err)
		}
		if rec.ID == "" {
			rec.ID = strconv.Itoa(j.line)
		}
		return &rec, nil
	}
	if err := j.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

type parquetReader struct {
	reader *parquet.GenericReader[InputRecord]
	buf    []InputRecord
	pos    int
	done   bool
}

func (p *parquetReader) Read() (*InputRecord, error) {
	for p.pos >= len(p.buf) {
		if p.done {
			return nil, io.EOF
		}
		if p.buf == nil {
			p.buf = make([]InputRecord, 0, 128)
		}
		p.buf = p.buf[:cap(p.buf)]
		n, err := p.reader.Read(p.buf)
		p.buf = p.buf[:n]
		p.pos = 0
		if err == io.EOF {
			p.done = true
		} else if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	rec := p.buf[p.pos]
	p.pos++
	return &rec, nil
}

type csvWriter struct {
	writer *csv.Writer
}

func (c *csvWriter) Write(records []OutputRecord) error {
	for _, r := range records {
		counts, err := json.Marshal(r.EntitiesFound)
		if err != nil {
			return err
		}
		row := []string{r.ID, r.RedactedText, string(counts), strconv.Itoa(r.TotalFindings)}
		if err := c.writer.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (c *csvWriter) Close() error {
	c.writer.Flush()
	return c.writer.Error()
}

type jsonWriter struct {
	buf *bufio.Writer
	enc *json.Encoder
}

func (j *jsonWriter) Write(records []OutputRecord) error {
	for i := range records {
		if err := j.enc.Encode(&records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (j *jsonWriter) Close() error {
	return j.buf.Flush()
}

type parquetWriter struct {
	writer *parquet.GenericWriter[parquetOutput]
}

func (p *parquetWriter) Write(records []OutputRecord) error {
	rows := make([]parquetOutput, len(records))
	for i, r := range records {
		counts, err := json.Marshal(r.EntitiesFound)
		if err != nil {
			return err
		}
		rows[i] = parquetOutput{
			ID:            r.ID,
			RedactedText:  r.RedactedText,
			EntitiesFound: string(counts),
			TotalFindings: int64(r.TotalFindings),
		}
	}
	_, err := p.writer.Write(rows)
	return err
}

func (p *parquetWriter) Close() error {
	return p.writer.Close()
}
