package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/seamux/seamux/iface"
	"github.com/seamux/seamux/iface/tcpif"
	"github.com/seamux/seamux/nmea"
	"github.com/seamux/seamux/sealog"
)

// InterfaceConfig describes one multiplexer interface. The transport-specific
// knobs travel as (var, val) option pairs exactly as the transport
// initialiser consumes them.
type InterfaceConfig struct {
	// Name identifies the interface in log messages and TAG blocks.
	Name string `json:"Name"`
	// Type names the transport; "tcp" is the only one built in.
	Type string `json:"Type"`
	// Direction is "in", "out" or "both".
	Direction string `json:"Direction"`
	// Persist keeps the connection alive forever, reconnecting on failure.
	Persist bool `json:"Persist"`
	// InitialPersist additionally tolerates the very first connect failing.
	InitialPersist bool `json:"InitialPersist"`
	// QueueSize is the outbound queue depth, 0 for the default.
	QueueSize int `json:"QueueSize"`
	// HeartbeatSecs enables a periodic heartbeat sentence on outbound
	// interfaces, 0 to disable.
	HeartbeatSecs int `json:"HeartbeatSecs"`
	// Checksum requires inbound sentences to carry a valid checksum.
	Checksum bool `json:"Checksum"`
	// Strict enforces the standard sentence length limit on input.
	Strict bool `json:"Strict"`
	// TagSource and TagTime select the TAG block fields prepended to
	// outbound sentences.
	TagSource bool `json:"TagSource"`
	TagTime   bool `json:"TagTime"`
	// InputFilter and OutputFilter are sentence filter expressions, e.g.
	// "+GPRMC:+GPGGA" or "-AI???".
	InputFilter  string `json:"InputFilter"`
	OutputFilter string `json:"OutputFilter"`
	// Options carries the transport options, e.g. address, port, mode.
	Options map[string]string `json:"Options"`
}

// Config is the JSON-deserialisable description of a whole multiplexer
// instance.
type Config struct {
	// EngineQueueSize is the depth of the shared inbound routing queue.
	EngineQueueSize int `json:"EngineQueueSize"`
	// MetricsPort serves prometheus metrics over HTTP when greater than 0.
	MetricsPort int `json:"MetricsPort"`
	// Verbosity is the debug log verbosity, 0 for none.
	Verbosity int `json:"Verbosity"`
	// Interfaces lists every interface of the multiplexer.
	Interfaces []InterfaceConfig `json:"Interfaces"`

	logger sealog.Logger
}

// DeserialiseFromJSON reads the configuration from JSON data.
func (config *Config) DeserialiseFromJSON(in []byte) error {
	config.logger = sealog.Logger{ComponentName: "config"}
	if err := json.Unmarshal(in, config); err != nil {
		return err
	}
	if len(config.Interfaces) == 0 {
		return fmt.Errorf("config: at least one interface must be defined")
	}
	return nil
}

// Assemble builds the engine, registry and every configured interface. The
// interfaces are initialised (clients have connected or armed their deferred
// connector, servers are bound) but their goroutines are not yet started.
func (config *Config) Assemble() (*iface.Registry, error) {
	engine := iface.NewEngine(config.EngineQueueSize)
	registry := iface.NewRegistry(engine)
	for i, ifc := range config.Interfaces {
		ifa, err := config.assembleInterface(uint32(i+1)<<8, ifc, registry)
		if err != nil {
			return nil, err
		}
		registry.Link(ifa)
	}
	return registry, nil
}

func (config *Config) assembleInterface(id uint32, ifc InterfaceConfig, registry *iface.Registry) (*iface.Iface, error) {
	if !strings.EqualFold(ifc.Type, "tcp") {
		return nil, fmt.Errorf("config: interface %s has unsupported type %q", ifc.Name, ifc.Type)
	}
	var direction iface.Direction
	switch strings.ToLower(ifc.Direction) {
	case "in":
		direction = iface.In
	case "out":
		direction = iface.Out
	case "both":
		direction = iface.Both
	default:
		return nil, fmt.Errorf("config: interface %s has invalid direction %q", ifc.Name, ifc.Direction)
	}
	ifilter, err := nmea.CompileFilter(ifc.InputFilter)
	if err != nil {
		return nil, fmt.Errorf("config: interface %s input filter: %w", ifc.Name, err)
	}
	ofilter, err := nmea.CompileFilter(ifc.OutputFilter)
	if err != nil {
		return nil, fmt.Errorf("config: interface %s output filter: %w", ifc.Name, err)
	}
	var flags iface.Flag
	if ifc.Persist {
		flags |= iface.Persist
	}
	if ifc.InitialPersist {
		flags |= iface.Persist | iface.InitialPersist
	}
	var tagFlags nmea.TagFlag
	if ifc.TagSource {
		tagFlags |= nmea.TagSource
	}
	if ifc.TagTime {
		tagFlags |= nmea.TagTime
	}
	ifa := &iface.Iface{
		ID:            id,
		Name:          ifc.Name,
		Direction:     direction,
		Flags:         flags,
		QSize:         ifc.QueueSize,
		HeartbeatSecs: ifc.HeartbeatSecs,
		TagFlags:      tagFlags,
		Checksum:      ifc.Checksum,
		Strict:        ifc.Strict,
		IFilter:       ifilter,
		OFilter:       ofilter,
		Lists:         registry,
	}
	// Feed the options in a stable order; option semantics are
	// order-independent.
	keys := make([]string, 0, len(ifc.Options))
	for key := range ifc.Options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	opts := make([]tcpif.Option, 0, len(keys))
	for _, key := range keys {
		opts = append(opts, tcpif.Option{Var: key, Val: ifc.Options[key]})
	}
	if _, err := tcpif.Init(ifa, opts); err != nil {
		return nil, fmt.Errorf("config: interface %s: %w", ifc.Name, err)
	}
	config.logger.Info("Assemble", ifc.Name, nil, "interface initialised")
	return ifa, nil
}
