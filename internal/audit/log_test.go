package audit

import (
	"bytes"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func testDB(t *testing.T) *bolt.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("ParseMAC(%q): %v", s, err)
	}
	return mac
}

func TestAppendAndQuery(t *testing.T) {
	al, err := NewLog(testDB(t))
	if err != nil {
		t.Fatal(err)
	}

	if err := al.Append("ADD", net.IPv4(10, 0, 0, 5), mustMAC(t, "aa:bb:cc:dd:ee:05"), 60, "ok"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := al.Append("DEL", net.IPv4(10, 0, 0, 5), nil, 0, "ok"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recs, err := al.Query(QueryParams{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	// newest first
	if recs[0].Command != "DEL" {
		t.Errorf("recs[0].Command = %q, want DEL", recs[0].Command)
	}
	if recs[1].Command != "ADD" || recs[1].MAC != "aa:bb:cc:dd:ee:05" {
		t.Errorf("recs[1] = %+v, want ADD with the recorded MAC", recs[1])
	}
}

func TestQueryByIP(t *testing.T) {
	al, err := NewLog(testDB(t))
	if err != nil {
		t.Fatal(err)
	}

	al.Append("ADD", net.IPv4(10, 0, 0, 5), mustMAC(t, "aa:bb:cc:dd:ee:05"), 60, "ok")
	al.Append("ADD", net.IPv4(10, 0, 0, 6), mustMAC(t, "aa:bb:cc:dd:ee:06"), 60, "ok")

	recs, err := al.Query(QueryParams{IP: "10.0.0.5"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 1 || recs[0].IP != "10.0.0.5" {
		t.Fatalf("recs = %+v, want one record for 10.0.0.5", recs)
	}
}

func TestQueryByCommand(t *testing.T) {
	al, err := NewLog(testDB(t))
	if err != nil {
		t.Fatal(err)
	}

	al.Append("ADD", net.IPv4(10, 0, 0, 5), mustMAC(t, "aa:bb:cc:dd:ee:05"), 60, "ok")
	al.Append("TTL", nil, nil, 120, "ok")

	recs, err := al.Query(QueryParams{Command: "TTL"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 1 || recs[0].Command != "TTL" {
		t.Fatalf("recs = %+v, want one TTL record", recs)
	}
}

func TestCount(t *testing.T) {
	al, err := NewLog(testDB(t))
	if err != nil {
		t.Fatal(err)
	}
	al.Append("ADD", net.IPv4(10, 0, 0, 5), mustMAC(t, "aa:bb:cc:dd:ee:05"), 60, "ok")
	al.Append("ADD", net.IPv4(10, 0, 0, 6), mustMAC(t, "aa:bb:cc:dd:ee:06"), 60, "ok")
	if got := al.Count(); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
}

func TestWriteCSV(t *testing.T) {
	al, err := NewLog(testDB(t))
	if err != nil {
		t.Fatal(err)
	}
	al.Append("ADD", net.IPv4(10, 0, 0, 5), mustMAC(t, "aa:bb:cc:dd:ee:05"), 60, "ok")

	recs, err := al.Query(QueryParams{})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, recs); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "id,timestamp,command,ip,mac,ttl,result") {
		t.Errorf("missing CSV header, got: %s", out)
	}
	if !strings.Contains(out, "10.0.0.5") {
		t.Errorf("missing IP in CSV output, got: %s", out)
	}
}
