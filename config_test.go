package main

import (
	"net"
	"testing"
	"time"

	"github.com/seamux/seamux/iface"
	"github.com/seamux/seamux/iface/tcpif"
)

func TestDeserialiseFromJSON(t *testing.T) {
	var config Config
	if err := config.DeserialiseFromJSON([]byte(`{"Interfaces": []}`)); err == nil {
		t.Fatal("empty interface list must be rejected")
	}
	if err := config.DeserialiseFromJSON([]byte(`{bad json`)); err == nil {
		t.Fatal("malformed JSON must be rejected")
	}
	sample := `{
		"EngineQueueSize": 256,
		"MetricsPort": 0,
		"Verbosity": 1,
		"Interfaces": [
			{"Name": "dist", "Type": "tcp", "Direction": "both",
			 "Options": {"mode": "server", "address": "127.0.0.1", "port": "0"}}
		]
	}`
	if err := config.DeserialiseFromJSON([]byte(sample)); err != nil {
		t.Fatal(err)
	}
	if config.EngineQueueSize != 256 || len(config.Interfaces) != 1 || config.Interfaces[0].Name != "dist" {
		t.Fatalf("%+v", config)
	}
}

func TestAssembleRejectsBadInterfaces(t *testing.T) {
	cases := []struct {
		name string
		ifc  InterfaceConfig
	}{
		{"unsupported type", InterfaceConfig{Name: "x", Type: "carrier-pigeon", Direction: "in"}},
		{"bad direction", InterfaceConfig{Name: "x", Type: "tcp", Direction: "sideways"}},
		{"bad input filter", InterfaceConfig{Name: "x", Type: "tcp", Direction: "in", InputFilter: "GPRMC"}},
		{"bad option", InterfaceConfig{Name: "x", Type: "tcp", Direction: "in",
			Options: map[string]string{"mode": "client", "address": "localhost", "bogus": "y"}}},
	}
	for _, c := range cases {
		config := Config{Interfaces: []InterfaceConfig{c.ifc}}
		if _, err := config.Assemble(); err == nil {
			t.Fatal(c.name, "must be rejected")
		}
	}
}

func TestAssembleAndServe(t *testing.T) {
	config := Config{
		Interfaces: []InterfaceConfig{
			{
				Name:      "dist",
				Type:      "tcp",
				Direction: "both",
				Options:   map[string]string{"mode": "server", "address": "127.0.0.1", "port": "0"},
			},
		},
	}
	registry, err := config.Assemble()
	if err != nil {
		t.Fatal(err)
	}
	interfaces := registry.Initialized()
	if len(interfaces) != 1 {
		t.Fatal(len(interfaces))
	}
	go registry.Engine.Run()
	for _, ifa := range interfaces {
		registry.Start(ifa)
	}
	defer tcpif.Shutdown(interfaces[0])

	addr := tcpif.ListenerAddr(interfaces[0])
	if addr == nil {
		t.Fatal("server interface must be listening")
	}
	client, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	// The bidirectional server echoes through the engine.
	sentence := "$GPGGA,125926,5300.97914,N*00\r\n"
	if _, err := client.Write([]byte(sentence)); err != nil {
		t.Fatal(err)
	}
	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 128)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != sentence {
		t.Fatalf("%q", buf[:n])
	}
}

func TestAssembleLinksBothHalves(t *testing.T) {
	// A bidirectional persist client splits into a linked Out/In pair.
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.AcceptTCP()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()
	config := Config{
		Interfaces: []InterfaceConfig{
			{
				Name:      "peer",
				Type:      "tcp",
				Direction: "both",
				Persist:   true,
				Options: map[string]string{
					"mode":    "client",
					"address": "127.0.0.1",
					"port":    portOf(ln.Addr()),
				},
			},
		},
	}
	registry, err := config.Assemble()
	if err != nil {
		t.Fatal(err)
	}
	interfaces := registry.Initialized()
	if len(interfaces) != 2 {
		t.Fatal(len(interfaces))
	}
	var out, in *iface.Iface
	for _, ifa := range interfaces {
		switch ifa.Direction {
		case iface.Out:
			out = ifa
		case iface.In:
			in = ifa
		}
	}
	if out == nil || in == nil || out.Pair != in || in.Pair != out {
		t.Fatalf("%+v %+v", out, in)
	}
}

func portOf(addr net.Addr) string {
	_, port, _ := net.SplitHostPort(addr.String())
	return port
}
