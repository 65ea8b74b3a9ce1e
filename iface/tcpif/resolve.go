package tcpif

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// resolveClass tells the caller how to react to a resolution failure.
type resolveClass int

const (
	resolveOK resolveClass = iota
	// resolveTransient failures (resolver overloaded or unreachable) are
	// retried, and tolerated at initialisation under initial-persist.
	resolveTransient
	// resolveNotFound failures (unknown host or service) are retried inside
	// the connector loop but fatal at initialisation.
	resolveNotFound
	// resolveHard failures are always fatal.
	resolveHard
)

const resolveTimeout = 10 * time.Second

// resolveAddrs resolves a (host, service) pair into candidate TCP addresses.
// An empty host yields the wildcard address for listeners. When nameserver
// is non-empty, host lookups bypass the system resolver and query that DNS
// server directly.
func resolveAddrs(host, service, nameserver string) ([]*net.TCPAddr, resolveClass, error) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	port, err := net.DefaultResolver.LookupPort(ctx, "tcp", service)
	if err != nil {
		return nil, resolveNotFound, fmt.Errorf("unknown service %q: %w", service, err)
	}
	if host == "" {
		return []*net.TCPAddr{{Port: port}}, resolveOK, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return []*net.TCPAddr{{IP: ip, Port: port}}, resolveOK, nil
	}
	var ips []net.IP
	if nameserver != "" {
		ips, err = lookupViaNameserver(host, nameserver)
	} else {
		var addrs []net.IPAddr
		addrs, err = net.DefaultResolver.LookupIPAddr(ctx, host)
		for _, a := range addrs {
			ips = append(ips, a.IP)
		}
	}
	if err != nil {
		return nil, classifyLookupError(err), fmt.Errorf("lookup failed for host %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, resolveNotFound, fmt.Errorf("no addresses for host %s", host)
	}
	out := make([]*net.TCPAddr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, &net.TCPAddr{IP: ip, Port: port})
	}
	return out, resolveOK, nil
}

// classifyLookupError maps a resolver error onto the retry policy.
func classifyLookupError(err error) resolveClass {
	if dnsErr, ok := err.(*net.DNSError); ok {
		if dnsErr.IsNotFound {
			return resolveNotFound
		}
		if dnsErr.IsTimeout || dnsErr.IsTemporary {
			return resolveTransient
		}
		// The system resolver does not classify further; treat the rest as
		// transient so a flaky resolver does not kill a persist interface.
		return resolveTransient
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return resolveTransient
	}
	return resolveHard
}

// lookupViaNameserver queries the given DNS server for A and AAAA records,
// bypassing the system resolver.
func lookupViaNameserver(host, nameserver string) ([]net.IP, error) {
	if _, _, err := net.SplitHostPort(nameserver); err != nil {
		nameserver = net.JoinHostPort(nameserver, "53")
	}
	fqdn := dns.Fqdn(host)
	client := &dns.Client{Timeout: resolveTimeout}
	var ips []net.IP
	var nxdomain bool
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		query := new(dns.Msg)
		query.SetQuestion(fqdn, qtype)
		query.RecursionDesired = true
		response, _, err := client.Exchange(query, nameserver)
		if err != nil {
			return nil, &net.DNSError{Err: err.Error(), Name: host, Server: nameserver, IsTemporary: true}
		}
		switch response.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			nxdomain = true
			continue
		case dns.RcodeServerFailure:
			return nil, &net.DNSError{Err: "server failure", Name: host, Server: nameserver, IsTemporary: true}
		default:
			return nil, &net.DNSError{Err: dns.RcodeToString[response.Rcode], Name: host, Server: nameserver}
		}
		for _, rr := range response.Answer {
			switch record := rr.(type) {
			case *dns.A:
				ips = append(ips, record.A)
			case *dns.AAAA:
				ips = append(ips, record.AAAA)
			}
		}
	}
	if len(ips) == 0 && nxdomain {
		return nil, &net.DNSError{Err: "no such host", Name: host, Server: nameserver, IsNotFound: true}
	}
	return ips, nil
}
