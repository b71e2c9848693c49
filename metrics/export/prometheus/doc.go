// Package prometheus exposes Engine metrics as a prometheus.Collector.
//
// Register the collector on a registry and serve it with promhttp:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(goaccountprom.NewCollector(engine))
//	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package prometheus
