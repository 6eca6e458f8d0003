// Package handlers contains the reusable pieces of the HTTP read surface:
// health checks, gin middleware and the agenda calendar export.
//
// # Health Checks
//
// The HealthChecker interface allows registering multiple named health checks
// that are executed in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("redis", handlers.NewPingCheck(cache))
//	checker.AddCheck("database", conn.Check)
//	checker.AddCheck("snapshots", handlers.NewSnapshotFreshnessCheck(readers, 3*time.Hour))
//
//	status := checker.Check(ctx)
//
// # Calendar Export
//
// CalendarHandler renders the agenda of a snapshot as an iCalendar feed
// that calendar clients can subscribe to:
//
//	cal := handlers.NewCalendarHandler("-//classeviva-poller//agenda//IT", time.Local)
//	router.GET("/accounts/:account/agenda.ics", func(c *gin.Context) {
//	    cal.Serve(c, snapshot)
//	})
//
// # Middleware
//
// RequestID, Recovery, APIKeyAuth, RateLimit, SecurityHeaders and NoCache are
// gin handlers meant to be installed with router.Use.
package handlers
