// Package handlers holds the transport pieces the ranks HTTP server composes:
// health probes, the per-client rate limiter and request guards.
//
// Probes run in parallel under a per-probe deadline. Info providers add
// details that never fail the report:
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.AddCheck("postgres", handlers.NewPingCheck(conn))
//	checker.AddInfo("event_bus", func() any { return bus.Metrics().Snapshot() })
//
// Middleware composes outermost first:
//
//	limiter := handlers.NewClientLimiter(600, time.Minute)
//	defer limiter.Stop()
//	h := handlers.ChainHandler(mux,
//	    limiter.Middleware(clientIP),
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.RequireAPIKeyForWrites("X-API-Key", keys),
//	)
package handlers
