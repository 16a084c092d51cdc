/*
Package monitoring provides Prometheus metrics for the inspector server.

Metrics live on a per-instance registry. Handlers and connectors record
inspections, emitted updates, swallowed failures and execute latency; the
HTTP layer records requests through Middleware.

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	connector := kernel.NewConnector(session, kernel.WithExecObserver(metrics.ObserveExecute))
*/
package monitoring
