package tcpif

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func TestResolveAddrsLiteralAndWildcard(t *testing.T) {
	addrs, class, err := resolveAddrs("", "10110", "")
	if err != nil || class != resolveOK {
		t.Fatal(class, err)
	}
	if len(addrs) != 1 || addrs[0].IP != nil || addrs[0].Port != 10110 {
		t.Fatalf("%+v", addrs)
	}
	addrs, _, err = resolveAddrs("127.0.0.1", "2000", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || !addrs[0].IP.Equal(net.ParseIP("127.0.0.1")) || addrs[0].Port != 2000 {
		t.Fatalf("%+v", addrs)
	}
	addrs, _, err = resolveAddrs("::1", "2000", "")
	if err != nil {
		t.Fatal(err)
	}
	if !addrs[0].IP.Equal(net.ParseIP("::1")) {
		t.Fatalf("%+v", addrs)
	}
}

func TestResolveAddrsLocalhost(t *testing.T) {
	addrs, _, err := resolveAddrs("localhost", "10110", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) == 0 {
		t.Fatal("localhost must resolve to at least one address")
	}
}

func TestResolveAddrsBadService(t *testing.T) {
	_, class, err := resolveAddrs("127.0.0.1", "no-such-service-name", "")
	if err == nil {
		t.Fatal("unknown service must fail")
	}
	if class != resolveNotFound {
		t.Fatal(class)
	}
}

func TestClassifyLookupError(t *testing.T) {
	cases := []struct {
		err  error
		want resolveClass
	}{
		{&net.DNSError{Err: "no such host", IsNotFound: true}, resolveNotFound},
		{&net.DNSError{Err: "i/o timeout", IsTimeout: true}, resolveTransient},
		{&net.DNSError{Err: "server misbehaving", IsTemporary: true}, resolveTransient},
		{&net.DNSError{Err: "unclassified"}, resolveTransient},
		{errors.New("not a resolver error"), resolveHard},
	}
	for _, c := range cases {
		if got := classifyLookupError(c.err); got != c.want {
			t.Fatalf("%v: got %v want %v", c.err, got, c.want)
		}
	}
}

// testNameserver runs a miekg/dns server answering A queries for
// known.example and NXDOMAIN for everything else.
func testNameserver(t *testing.T) (addr string, shutdown func()) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		if len(req.Question) == 1 && req.Question[0].Name == "known.example." && req.Question[0].Qtype == dns.TypeA {
			rr, _ := dns.NewRR("known.example. 60 IN A 127.0.0.1")
			resp.Answer = append(resp.Answer, rr)
		} else {
			resp.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(resp)
	})
	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go func() {
		_ = srv.ActivateAndServe()
	}()
	return pc.LocalAddr().String(), func() { _ = srv.Shutdown() }
}

func TestLookupViaNameserver(t *testing.T) {
	addr, shutdown := testNameserver(t)
	defer shutdown()
	// Give the server a moment to start serving.
	time.Sleep(200 * time.Millisecond)

	addrs, class, err := resolveAddrs("known.example", "2000", addr)
	if err != nil || class != resolveOK {
		t.Fatal(class, err)
	}
	if len(addrs) != 1 || !addrs[0].IP.Equal(net.ParseIP("127.0.0.1")) || addrs[0].Port != 2000 {
		t.Fatalf("%+v", addrs)
	}

	_, class, err = resolveAddrs("unknown.example", "2000", addr)
	if err == nil {
		t.Fatal("unknown host must fail")
	}
	if class != resolveNotFound {
		t.Fatal(class, err)
	}
}
