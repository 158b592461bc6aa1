package cache

import (
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/arpd/arpd/internal/metrics"
)

func mustMAC(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return mac
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestAddAndFindByIP(t *testing.T) {
	c := newTestCache(t)
	ip := net.IPv4(10, 0, 0, 2)
	mac := mustMAC("aa:bb:cc:dd:ee:02")

	c.Add(ip, mac, 60)

	b, ok := c.FindByIP(ip)
	if !ok {
		t.Fatal("expected binding to be found")
	}
	if !b.IP.Equal(ip) || b.MAC.String() != mac.String() || b.TTL != 60 {
		t.Errorf("got %+v", b)
	}
}

func TestAddIsNoOpOnExistingIP(t *testing.T) {
	c := newTestCache(t)
	ip := net.IPv4(10, 0, 0, 2)
	m1 := mustMAC("aa:bb:cc:dd:ee:01")
	m2 := mustMAC("aa:bb:cc:dd:ee:02")

	c.Add(ip, m1, 10)
	c.Add(ip, m2, 20)

	b, ok := c.FindByIP(ip)
	if !ok {
		t.Fatal("expected binding")
	}
	if b.MAC.String() != m1.String() || b.TTL != 10 {
		t.Errorf("first writer should win, got %+v", b)
	}
	if c.Count() != 1 {
		t.Errorf("Count() = %d, want 1", c.Count())
	}
}

func TestRemove(t *testing.T) {
	c := newTestCache(t)
	ip := net.IPv4(10, 0, 0, 99)

	if c.Remove(ip) {
		t.Error("Remove on empty cache should return false")
	}

	c.Add(ip, mustMAC("aa:bb:cc:dd:ee:99"), 60)
	if !c.Remove(ip) {
		t.Error("Remove should return true for existing entry")
	}
	if c.Remove(ip) {
		t.Error("second Remove should return false")
	}
}

func TestGetOutOfRange(t *testing.T) {
	c := newTestCache(t)
	if _, err := c.Get(0); err != ErrOutOfRange {
		t.Errorf("Get on empty cache error = %v, want ErrOutOfRange", err)
	}
}

func TestSnapshotPreservesInsertionOrder(t *testing.T) {
	c := newTestCache(t)
	ips := []net.IP{net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2), net.IPv4(10, 0, 0, 3)}
	for i, ip := range ips {
		c.Add(ip, mustMAC("aa:bb:cc:dd:ee:0"+string(rune('1'+i))), 60)
	}

	snap := c.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(snap) = %d, want 3", len(snap))
	}
	for i, ip := range ips {
		if !snap[i].IP.Equal(ip) {
			t.Errorf("snap[%d].IP = %s, want %s", i, snap[i].IP, ip)
		}
	}
}

func TestTickDecrementsAndEvicts(t *testing.T) {
	c := newTestCache(t)
	ip := net.IPv4(10, 0, 0, 5)
	c.Add(ip, mustMAC("aa:bb:cc:dd:ee:05"), 2)

	c.tick()
	b, ok := c.FindByIP(ip)
	if !ok || b.TTL != 1 {
		t.Fatalf("after one tick, want TTL=1, got ok=%v ttl=%v", ok, b.TTL)
	}

	c.tick()
	if _, ok := c.FindByIP(ip); ok {
		t.Error("binding should be evicted once TTL reaches 0")
	}
}

func TestTickNeverAgesPermanentBinding(t *testing.T) {
	c := newTestCache(t)
	ip := net.IPv4(10, 0, 0, 10)
	c.Add(ip, mustMAC("aa:bb:cc:dd:ee:10"), Permanent)

	for i := 0; i < 120; i++ {
		c.tick()
	}

	b, ok := c.FindByIP(ip)
	if !ok || b.TTL != Permanent {
		t.Errorf("permanent binding should survive ticks unchanged, got ok=%v ttl=%v", ok, b.TTL)
	}
}

func TestSetDefaultTTLDoesNotAffectExistingEntries(t *testing.T) {
	c := newTestCache(t)
	ip := net.IPv4(10, 0, 0, 9)
	c.AddDefault(ip, mustMAC("aa:bb:cc:dd:ee:09"))

	c.SetDefaultTTL(Permanent)

	b, _ := c.FindByIP(ip)
	if b.TTL != DefaultTTL {
		t.Errorf("existing entry's TTL changed to %d, want unaffected %d", b.TTL, DefaultTTL)
	}

	ip2 := net.IPv4(10, 0, 0, 10)
	c.AddDefault(ip2, mustMAC("aa:bb:cc:dd:ee:10"))
	b2, _ := c.FindByIP(ip2)
	if b2.TTL != Permanent {
		t.Errorf("new entry should use the updated default TTL, got %d", b2.TTL)
	}
}

func TestTickUpdatesMetrics(t *testing.T) {
	c := newTestCache(t)
	c.Add(net.IPv4(10, 0, 0, 20), mustMAC("aa:bb:cc:dd:ee:20"), 1)
	c.Add(net.IPv4(10, 0, 0, 21), mustMAC("aa:bb:cc:dd:ee:21"), Permanent)

	if got := testutil.ToFloat64(metrics.BindingsActive); got != 2 {
		t.Errorf("BindingsActive after Add = %v, want 2", got)
	}

	expiredBefore := testutil.ToFloat64(metrics.BindingsExpired)
	c.tick()
	if got := testutil.ToFloat64(metrics.BindingsExpired); got != expiredBefore+1 {
		t.Errorf("BindingsExpired after one expiry = %v, want %v", got, expiredBefore+1)
	}
	if got := testutil.ToFloat64(metrics.BindingsActive); got != 1 {
		t.Errorf("BindingsActive after expiry = %v, want 1 (permanent binding only)", got)
	}
}

func TestRemoveUpdatesActiveGauge(t *testing.T) {
	c := newTestCache(t)
	ip := net.IPv4(10, 0, 0, 22)
	c.Add(ip, mustMAC("aa:bb:cc:dd:ee:22"), 60)
	c.Remove(ip)

	if got := testutil.ToFloat64(metrics.BindingsActive); got != 0 {
		t.Errorf("BindingsActive after Remove = %v, want 0", got)
	}
}

func TestFindByMACReturnsFirstMatch(t *testing.T) {
	c := newTestCache(t)
	mac := mustMAC("aa:bb:cc:dd:ee:11")
	c.Add(net.IPv4(10, 0, 0, 11), mac, 60)
	c.Add(net.IPv4(10, 0, 0, 12), mac, 60)

	b, ok := c.FindByMAC(mac)
	if !ok {
		t.Fatal("expected a match")
	}
	if !b.IP.Equal(net.IPv4(10, 0, 0, 11)) {
		t.Errorf("FindByMAC should return first match, got IP %s", b.IP)
	}
}
