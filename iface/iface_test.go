package iface

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/seamux/seamux/nmea"
)

func TestQueueFIFOAndBlocking(t *testing.T) {
	q := NewQueue(4, nil, "test")
	arrived := make(chan *nmea.Senblk, 1)
	go func() {
		arrived <- q.Next()
	}()
	// The consumer must block until something is pushed.
	select {
	case sb := <-arrived:
		t.Fatal("Next returned early", sb)
	case <-time.After(200 * time.Millisecond):
	}
	q.Push(&nmea.Senblk{Data: []byte("$GPRMC,1\r\n")})
	select {
	case sb := <-arrived:
		if string(sb.Data) != "$GPRMC,1\r\n" {
			t.Fatal(string(sb.Data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not wake up")
	}
	q.Push(&nmea.Senblk{Data: []byte("$GPRMC,2\r\n")})
	q.Push(&nmea.Senblk{Data: []byte("$GPRMC,3\r\n")})
	if string(q.Next().Data) != "$GPRMC,2\r\n" || string(q.Next().Data) != "$GPRMC,3\r\n" {
		t.Fatal("queue must be FIFO")
	}
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	q := NewQueue(2, nil, "overflow")
	for i := 1; i <= 3; i++ {
		q.Push(&nmea.Senblk{Data: []byte{'$', byte('0' + i), '\r', '\n'}})
	}
	if q.Len() != 2 {
		t.Fatal(q.Len())
	}
	if sb := q.Next(); sb.Data[1] != '2' {
		t.Fatal(string(sb.Data))
	}
}

func TestQueueFilterFlushClose(t *testing.T) {
	filter, err := nmea.CompileFilter("+GPRMC")
	if err != nil {
		t.Fatal(err)
	}
	q := NewQueue(8, filter, "filtered")
	q.Push(&nmea.Senblk{Data: []byte("$AIVDM,x\r\n")})
	if q.Len() != 0 {
		t.Fatal("filtered senblk must not be queued")
	}
	q.Push(&nmea.Senblk{Data: []byte("$GPRMC,x\r\n")})
	q.Flush()
	if q.Len() != 0 {
		t.Fatal("flush must discard buffered senblks")
	}
	q.Push(&nmea.Senblk{Data: []byte("$GPRMC,y\r\n")})
	q.Close()
	// Close drains buffered senblks first, then Next returns nil.
	if sb := q.Next(); sb == nil || string(sb.Data) != "$GPRMC,y\r\n" {
		t.Fatal(sb)
	}
	if sb := q.Next(); sb != nil {
		t.Fatal("closed queue must return nil", sb)
	}
	// Pushing after close is a no-op.
	q.Push(&nmea.Senblk{Data: []byte("$GPRMC,z\r\n")})
	if sb := q.Next(); sb != nil {
		t.Fatal(sb)
	}
}

func TestEngineRouting(t *testing.T) {
	engine := NewEngine(16)
	go engine.Run()
	all := NewQueue(16, nil, "all")
	gpsOnly, err := nmea.CompileFilter("+GP???")
	if err != nil {
		t.Fatal(err)
	}
	filtered := NewQueue(16, gpsOnly, "gps-only")
	engine.AddOutput(all)
	engine.AddOutput(filtered)

	engine.Q.Push(&nmea.Senblk{Data: []byte("$GPRMC,1*00\r\n")})
	engine.Q.Push(&nmea.Senblk{Data: []byte("!AIVDM,1*00\r\n")})
	time.Sleep(500 * time.Millisecond)
	if all.Len() != 2 {
		t.Fatal(all.Len())
	}
	if filtered.Len() != 1 {
		t.Fatal(filtered.Len())
	}
	engine.RemoveOutput(all)
	engine.Q.Push(&nmea.Senblk{Data: []byte("$GPGGA,2*00\r\n")})
	time.Sleep(500 * time.Millisecond)
	if all.Len() != 2 {
		t.Fatal("removed output must not receive senblks")
	}
	engine.Stop()
}

func TestDupPairsInterfaces(t *testing.T) {
	dupCalls := 0
	ifa := &Iface{
		Name:      "both",
		Direction: Both,
		Flags:     Persist,
		TagFlags:  nmea.TagSource,
		DupInfo: func(info interface{}) interface{} {
			dupCalls++
			return info
		},
	}
	other := ifa.Dup()
	if dupCalls != 1 {
		t.Fatal(dupCalls)
	}
	if ifa.Direction != Out || other.Direction != In {
		t.Fatal(ifa.Direction, other.Direction)
	}
	if ifa.Pair != other || other.Pair != ifa {
		t.Fatal("pair pointers must be symmetric")
	}
	if other.Name != "both" || !other.HasFlag(Persist) || other.TagFlags != nmea.TagSource {
		t.Fatalf("%+v", other)
	}
}

func TestRunFramedRead(t *testing.T) {
	engine := NewEngine(16)
	chunks := []string{"$GPRMC,1*00\r\n$GP", "GGA,2*00\r\n"}
	ifa := &Iface{
		ID:   3,
		Name: "reader",
		Q:    engine.Q,
		ReadBuf: func(_ *Iface, buf []byte) (int, error) {
			if len(chunks) == 0 {
				return 0, errors.New("connection closed")
			}
			n := copy(buf, chunks[0])
			chunks = chunks[1:]
			return n, nil
		},
	}
	RunFramedRead(ifa)
	if engine.Q.Len() != 2 {
		t.Fatal(engine.Q.Len())
	}
	sb := engine.Q.Next()
	if sb.Source != 3 {
		t.Fatal(sb.Source)
	}
}

func TestHeartbeat(t *testing.T) {
	q := NewQueue(8, nil, "hb")
	ifa := &Iface{ID: 9, Name: "hb", Direction: Out, HeartbeatSecs: 1, Q: q}
	startHeartbeat(ifa)
	time.Sleep(1500 * time.Millisecond)
	sb := q.Next()
	if sb == nil || !strings.HasPrefix(string(sb.Data), "$SMXHB,9*") {
		t.Fatal(sb)
	}
	if !nmea.ChecksumOK(sb.Data) {
		t.Fatal("heartbeat sentence must carry a valid checksum")
	}
	q.Close()
}
