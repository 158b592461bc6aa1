package audit

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// CSVHeaders returns the CSV column headers for audit records.
var CSVHeaders = []string{"id", "timestamp", "command", "ip", "mac", "ttl", "result"}

// WriteCSV writes audit records as CSV to the given writer.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(CSVHeaders); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	for _, r := range records {
		row := []string{
			strconv.FormatUint(r.ID, 10),
			r.Timestamp,
			r.Command,
			r.IP,
			r.MAC,
			formatInt32(r.TTL),
			r.Result,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}
	return nil
}

func formatInt32(v int32) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(int64(v), 10)
}
