/*
seamux is a multiplexer for NMEA 0183 sentence streams: it moves
line-oriented sentence records between TCP endpoints in client or server
mode, optionally keeping client connections alive forever by transparently
reconnecting after any failure.

Run it with a JSON configuration describing the interfaces:

	seamux -config mux.json

Example configuration bridging a gpsd server into a local TCP service:

	{
	  "Interfaces": [
	    {"Name": "gps", "Type": "tcp", "Direction": "in", "Persist": true,
	     "Options": {"address": "gpshost", "gpsd": "yes"}},
	    {"Name": "dist", "Type": "tcp", "Direction": "both",
	     "Options": {"mode": "server", "port": "10110"}}
	  ]
	}
*/
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seamux/seamux/iface/tcpif"
	"github.com/seamux/seamux/sealog"
)

func main() {
	var configPath string
	var verbosity int
	flag.StringVar(&configPath, "config", "", "Path to the JSON configuration file")
	flag.IntVar(&verbosity, "verbosity", -1, "Debug log verbosity, overrides the configuration when 0 or greater")
	flag.Parse()
	logger := sealog.Logger{ComponentName: "main", ComponentID: []sealog.IDField{{Key: "PID", Value: os.Getpid()}}}

	if configPath == "" {
		logger.Abort("main", "", nil, "please provide a configuration file (-config)")
		return
	}
	configData, err := os.ReadFile(configPath)
	if err != nil {
		logger.Abort("main", "", err, "failed to read configuration file \"%s\"", configPath)
		return
	}
	var config Config
	if err := config.DeserialiseFromJSON(configData); err != nil {
		logger.Abort("main", "", err, "failed to deserialise configuration file \"%s\"", configPath)
		return
	}
	if verbosity >= 0 {
		sealog.SetVerbosity(verbosity)
	} else {
		sealog.SetVerbosity(config.Verbosity)
	}

	registry, err := config.Assemble()
	if err != nil {
		logger.Abort("main", "", err, "failed to initialise interfaces")
		return
	}
	go registry.Engine.Run()
	interfaces := registry.Initialized()
	for _, ifa := range interfaces {
		registry.Start(ifa)
	}
	logger.Info("main", "", nil, "started %d interfaces", len(interfaces))

	if config.MetricsPort > 0 {
		go serveMetrics(config.MetricsPort, logger)
	}

	// Run until interrupted or until every interface goroutine has exited
	// (e.g. all queues closed).
	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
	allDone := make(chan struct{})
	go func() {
		registry.Wait()
		close(allDone)
	}()
	select {
	case sig := <-stopSignals:
		logger.Info("main", "", nil, "received signal %v, shutting down", sig)
		registry.Engine.Stop()
	case <-allDone:
		logger.Info("main", "", nil, "all interfaces have exited, shutting down")
	}
	logger.Info("main", "", nil, "served connection durations (sec): %s", tcpif.ServeDurationStats.Format(1e9, 3))
}

// serveMetrics exposes the prometheus readings over HTTP.
func serveMetrics(port int, logger sealog.Logger) {
	handler := promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	logger.Info("serveMetrics", "", nil, "serving metrics on port %d", port)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		logger.Warning("serveMetrics", "", err, "metrics endpoint failed")
	}
}
