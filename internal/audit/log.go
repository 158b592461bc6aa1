// Package audit provides a persistent, append-only record of control-plane
// commands handled by arpd. The control server records ADD, DEL and TTL
// commands; resolves and interface reconfigurations are not recorded.
// Stored in its own BoltDB bucket, separate from the binding cache's
// permanent-binding bucket, and queryable by IP.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketAudit   = []byte("audit_log")
	bucketAuditIP = []byte("audit_ip_index") // ip -> list of audit record keys
)

// Record is a single audit log entry for one control-plane command.
type Record struct {
	ID        uint64 `json:"id"`
	Timestamp string `json:"timestamp"`
	Command   string `json:"command"`
	IP        string `json:"ip,omitempty"`
	MAC       string `json:"mac,omitempty"`
	TTL       int32  `json:"ttl,omitempty"`
	Result    string `json:"result"`
}

// QueryParams filters Query results.
type QueryParams struct {
	IP      string
	Command string
	From    time.Time
	To      time.Time
	Limit   int
}

// Log is an append-only, BoltDB-backed audit trail.
type Log struct {
	db *bolt.DB
}

// NewLog opens (creating if necessary) the audit buckets in db.
func NewLog(db *bolt.DB) (*Log, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketAudit); err != nil {
			return fmt.Errorf("creating audit bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketAuditIP); err != nil {
			return fmt.Errorf("creating audit IP index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Log{db: db}, nil
}

// Append records one command outcome. IP and MAC may be the zero value
// for commands that don't target a specific binding (TTL).
func (l *Log) Append(command string, ip net.IP, mac net.HardwareAddr, ttl int32, result string) error {
	rec := Record{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Command:   command,
		IP:        ipStr(ip),
		MAC:       macStr(mac),
		TTL:       ttl,
		Result:    result,
	}
	return l.append(rec)
}

func (l *Log) append(rec Record) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)

		id, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("generating audit ID: %w", err)
		}
		rec.ID = id

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshalling audit record: %w", err)
		}

		key := uint64Key(id)
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("storing audit record: %w", err)
		}

		if rec.IP != "" {
			idx := tx.Bucket(bucketAuditIP)
			ipKey := []byte(rec.IP)
			var ids []uint64
			if existing := idx.Get(ipKey); existing != nil {
				json.Unmarshal(existing, &ids)
			}
			ids = append(ids, id)
			idData, err := json.Marshal(ids)
			if err != nil {
				return err
			}
			return idx.Put(ipKey, idData)
		}
		return nil
	})
}

// Query searches the audit log with the given parameters, newest first.
func (l *Log) Query(params QueryParams) ([]Record, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 1000
	}

	if params.IP != "" {
		return l.queryByIP(params, limit)
	}

	var results []Record
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(results) < limit; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if matchesQuery(rec, params) {
				results = append(results, rec)
			}
		}
		return nil
	})
	return results, err
}

func (l *Log) queryByIP(params QueryParams, limit int) ([]Record, error) {
	var results []Record
	err := l.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketAuditIP)
		b := tx.Bucket(bucketAudit)

		idsData := idx.Get([]byte(params.IP))
		if idsData == nil {
			return nil
		}
		var ids []uint64
		if err := json.Unmarshal(idsData, &ids); err != nil {
			return nil
		}

		for i := len(ids) - 1; i >= 0 && len(results) < limit; i-- {
			data := b.Get(uint64Key(ids[i]))
			if data == nil {
				continue
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			if matchesQuery(rec, params) {
				results = append(results, rec)
			}
		}
		return nil
	})
	return results, err
}

// Count returns the total number of audit records.
func (l *Log) Count() int {
	var count int
	l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		count = b.Stats().KeyN
		return nil
	})
	return count
}

func matchesQuery(rec Record, params QueryParams) bool {
	if params.Command != "" && rec.Command != params.Command {
		return false
	}
	recTime, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		return false
	}
	if !params.From.IsZero() && recTime.Before(params.From) {
		return false
	}
	if !params.To.IsZero() && recTime.After(params.To) {
		return false
	}
	return true
}

func uint64Key(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func ipStr(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func macStr(mac net.HardwareAddr) string {
	if mac == nil {
		return ""
	}
	return mac.String()
}
