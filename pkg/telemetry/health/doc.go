// Package health provides liveness and readiness endpoints for the
// limitgate gateway.
//
// # Endpoints
//
//   - /health: liveness, 200 while the process serves HTTP
//   - /ready: readiness, runs every registered check and returns 503 when
//     any of them fails
//   - /version: build information
//
// # Checks
//
// The gateway registers a check per dependency:
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("rules", health.TableCheck(srv.CurrentTable, nil))
//	checker.RegisterCheck("stats", health.PingCheck(redisClient.Ping))
//	checker.RegisterCheck("snapshots", health.BackendCheck(backend, "gateway"))
//	checker.Register(mux, version, commit, buildTime)
//
// A failing statistics store degrades readiness but never blocks
// admission; the middleware records statistics on a best-effort basis.
package health
