package checkpoint

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteRecords writes data as len(data)/stride records of stride fields.
func WriteRecords(w io.Writer, stride int, data []float32) error {
	if stride <= 0 || len(data)%stride != 0 {
		return &IOError{Err: fmt.Errorf("%d values do not form records of %d", len(data), stride)}
	}

	bw := bufio.NewWriter(w)
	for i := 0; i < len(data); i += stride {
		var err error
		switch stride {
		case 1:
			_, err = fmt.Fprintf(bw, "%.10f\n", data[i])
		case 2:
			_, err = fmt.Fprintf(bw, "%.10f %.10f\n", data[i], data[i+1])
		default:
			fields := make([]string, stride)
			for j := range fields {
				fields[j] = strconv.FormatFloat(float64(data[i+j]), 'f', 10, 32)
			}
			_, err = fmt.Fprintln(bw, strings.Join(fields, " "))
		}
		if err != nil {
			return &IOError{Record: i/stride + 1, Err: err}
		}
	}
	if err := bw.Flush(); err != nil {
		return &IOError{Err: err}
	}
	return nil
}

// ReadRecords fills dst with len(dst)/stride records read from r. Blank
// lines are skipped and lines after the last record are ignored. On error
// the records before the failing one have already been written to dst.
func ReadRecords(r io.Reader, stride int, dst []float32) error {
	if stride <= 0 || len(dst)%stride != 0 {
		return &IOError{Err: fmt.Errorf("%d values do not form records of %d", len(dst), stride)}
	}
	want := len(dst) / stride

	sc := bufio.NewScanner(r)
	record := 0
	for record < want && sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != stride {
			return &IOError{Record: record + 1, Err: fmt.Errorf("expected %d fields, got %d", stride, len(fields))}
		}
		for j, tok := range fields {
			v, err := strconv.ParseFloat(tok, 32)
			if err != nil {
				return &IOError{Record: record + 1, Err: fmt.Errorf("field %d: %w", j+1, err)}
			}
			dst[record*stride+j] = float32(v)
		}
		record++
	}
	if err := sc.Err(); err != nil {
		return &IOError{Record: record + 1, Err: err}
	}
	if record < want {
		return &IOError{Record: record + 1, Err: fmt.Errorf("unexpected end of file after %d of %d records", record, want)}
	}
	return nil
}

// ReadAllRecords reads every record in r. Blank lines are skipped.
func ReadAllRecords(r io.Reader, stride int) ([]float32, error) {
	if stride <= 0 {
		return nil, &IOError{Err: fmt.Errorf("invalid stride %d", stride)}
	}

	var out []float32
	sc := bufio.NewScanner(r)
	record := 0
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		record++
		if len(fields) != stride {
			return out, &IOError{Record: record, Err: fmt.Errorf("expected %d fields, got %d", stride, len(fields))}
		}
		for j, tok := range fields {
			v, err := strconv.ParseFloat(tok, 32)
			if err != nil {
				return out, &IOError{Record: record, Err: fmt.Errorf("field %d: %w", j+1, err)}
			}
			out = append(out, float32(v))
		}
	}
	if err := sc.Err(); err != nil {
		return out, &IOError{Record: record + 1, Err: err}
	}
	return out, nil
}
