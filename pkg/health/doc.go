/*
Package health implements the position loader's dependency health checks:
Postgres and Redis reachability, exposed through /health, /ready, and /live
so an operator or load balancer can distinguish "process is up" from
"process can actually serve requests".

# Checker interface

Every checker implements:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

PostgresChecker and RedisChecker (checkers.go) ping the pgx pool and Redis
client the position store and snapshot cache already hold open; HTTPChecker
is the general-purpose checker used for the upstream feed's own health
endpoint, which has no pool or client of its own to ping.

# Status and hysteresis

Status accumulates consecutive check results and only flips Healthy after
Config.Retries consecutive failures (or one success), so a single transient
Postgres blip doesn't flap the readiness endpoint:

	status := health.NewStatus()
	status.Update(checker.Check(ctx), config)
	if !status.Healthy {
		// mark /ready unhealthy
	}

StartPeriod gives a newly-started process a grace window before failed
checks count against it, for slower dependency warm-up on cold start.

# Usage

cmd/posloader's serve command polls all three checkers on a ticker and
feeds each Result through pkg/metrics' UpdateComponent, which runs it
through its own Status/Config pair before updating the component entry
that the /health and /ready HTTP handlers report:

	pgChecker := health.NewPostgresChecker(store.Pool())
	redisChecker := health.NewRedisChecker(cache.Client())
	upstreamChecker := health.NewHTTPChecker(cfg.UpstreamBaseURL + "/health")
*/
package health
