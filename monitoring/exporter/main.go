// Standalone exporter of duplex runtime stats: scrapes the server's expvar
// endpoint and re-serves the values in Prometheus format.
package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
)

type promHTTPLogger struct{}

func (l promHTTPLogger) Println(v ...any) {
	log.Println(v...)
}

func main() {
	log.Printf("Duplex metrics exporter.")

	var (
		serverAddr  = flag.String("server_addr", "http://localhost:6060/debug/vars", "Address of the duplex instance to scrape.")
		listenAt    = flag.String("listen_at", ":6222", "Host name and port to listen for incoming requests on.")
		namespace   = flag.String("namespace", "duplex", "Prometheus namespace for metrics '<namespace>_...'")
		metricsPath = flag.String("metrics_path", "/metrics", "Path under which to expose metrics for Prometheus scrapes.")
		timeout     = flag.Int("timeout", 15, "Server connection timeout in seconds in response to Prometheus scrapes.")
	)
	flag.Parse()

	if *metricsPath == "/" {
		log.Fatal("Serving metrics from / is not supported")
	}

	// Index page at web root.
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Duplex Exporter</title></head><body>
<h1>Duplex Exporter</h1>
<p>Metrics path: <a href='` + *metricsPath + `'>Metrics</a></p>
<h2>Build</h2>
<pre>` + version.Info() + ` ` + version.BuildContext() + `</pre>
</body></html>`))
	})

	scraper := Scraper{address: *serverAddr}
	exporter := NewPromExporter(*namespace, time.Duration(*timeout)*time.Second, &scraper)
	registry := prometheus.NewRegistry()
	registry.MustRegister(exporter)
	http.Handle(*metricsPath,
		promhttp.InstrumentMetricHandler(
			registry,
			promhttp.HandlerFor(
				registry,
				promhttp.HandlerOpts{
					ErrorLog: &promHTTPLogger{},
					Timeout:  time.Duration(*timeout) * time.Second,
				},
			),
		),
	)

	log.Println("Reading expvar from", *serverAddr)
	log.Printf("Serving metrics at %s%s", *listenAt, *metricsPath)
	log.Fatalln(http.ListenAndServe(*listenAt, nil))
}
