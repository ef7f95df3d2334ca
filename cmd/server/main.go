// Haven ingests disaster alerts and builds response plans for them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/haven/internal/alert"
	"github.com/linnemanlabs/haven/internal/alertapi"
	hc "github.com/linnemanlabs/haven/internal/cfg"
	"github.com/linnemanlabs/haven/internal/geo"
	"github.com/linnemanlabs/haven/internal/ingest"
	"github.com/linnemanlabs/haven/internal/llm/claude"
	"github.com/linnemanlabs/haven/internal/memory"
	"github.com/linnemanlabs/haven/internal/memory/memstore"
	"github.com/linnemanlabs/haven/internal/memory/pgstore"
	"github.com/linnemanlabs/haven/internal/notify/slack"
	"github.com/linnemanlabs/haven/internal/plan"
	"github.com/linnemanlabs/haven/internal/postgres"
	"github.com/linnemanlabs/haven/internal/region"
	"github.com/linnemanlabs/haven/internal/source"
	"github.com/linnemanlabs/haven/internal/tools"
	"github.com/linnemanlabs/haven/internal/volunteer"
)

const appName = "haven"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    hc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix HAVEN_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "HAVEN_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"trace_insecure", traceCfg.Insecure,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"pyro_tenant", profCfg.PyroTenantID,
		"include_error_links", logCfg.IncludeErrorLinks,
		"max_error_links", logCfg.MaxErrorLinks,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
		"alert_source", appCfg.AlertSource,
		"poll_interval_seconds", appCfg.PollIntervalSeconds,
		"collaborator_timeout_seconds", appCfg.CollaboratorTimeoutSeconds,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	// Start profiling, returns a stop function to call for clean shutdown (flush buffers, etc)
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Link spans to profiles when both are running
	if err == nil && profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Region catalog backs the gazetteer, the offline geocoder and volunteer pools
	catalog := region.Default()
	if appCfg.RegionsFile != "" {
		catalog, err = region.Load(appCfg.RegionsFile)
		if err != nil {
			return fmt.Errorf("regions: %w", err)
		}
		L.Info(ctx, "loaded region catalog", "path", appCfg.RegionsFile)
	}

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "haven_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	// Initialize the memory bank
	var bank memory.Bank
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		bank = pgStore
		L.Info(ctx, "using postgres memory bank")
	} else {
		bank = memstore.New()
		L.Info(ctx, "using in-memory memory bank (no database-url configured)")
	}

	// Geocoding, shelters and routing use Google Maps when a key is set,
	// otherwise the static catalog and straight-line estimates.
	var (
		geocoder plan.Geocoder       = catalog
		shelters plan.ShelterFinder  = geo.StaticShelters{}
		routes   plan.RouteEstimator = geo.StraightLine{}
	)
	if appCfg.GoogleMapsAPIKey != "" {
		gmaps := geo.NewGoogleMaps(appCfg.GoogleMapsAPIKey)
		geocoder, shelters, routes = gmaps, gmaps, gmaps
		L.Info(ctx, "geo backend enabled", "type", "google_maps")
	}

	allocator := volunteer.NewCapacityAllocator(catalog)

	// Initialize the tool registry and register available tools
	registry := tools.NewRegistry()
	for _, t := range []tools.Tool{
		tools.NewAssignVolunteers(allocator),
		tools.NewIncidentHistory(bank),
	} {
		registry.Register(t)
		L.Info(ctx, "registered tool", "name", t.Name())
	}

	// Initialize plan metrics on the shared Prometheus registry.
	planMetrics := plan.NewMetrics(m.Registry())

	// Claude agents are optional, without a key risk and drafting use heuristics
	var (
		riskAgent plan.RiskEvaluator
		planAgent plan.Planner
	)
	if appCfg.ClaudeAPIKey != "" {
		claudeProvider := claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
		riskAgent = plan.NewRiskAgent(claudeProvider, L, planMetrics.AgentHooks())
		planAgent = plan.NewPlanAgent(claudeProvider, registry, L, planMetrics.AgentHooks())
		L.Info(ctx, "initialized LLM provider", "provider", "claude", "model", appCfg.ClaudeModel)
	} else {
		L.Info(ctx, "no claude-api-key configured, using heuristic planning")
	}

	// Initialize Slack notifier for plan notifications.
	var notifier plan.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifier = slack.New(appCfg.SlackWebhookURL, L)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	alerts := alert.NewStore()
	callTimeout := time.Duration(appCfg.CollaboratorTimeoutSeconds) * time.Second

	orchestrator := plan.New(plan.Deps{
		Alerts:      alerts,
		Risk:        riskAgent,
		Planner:     planAgent,
		Volunteers:  allocator,
		Geocoder:    geocoder,
		Shelters:    shelters,
		Routes:      routes,
		Recorder:    bank,
		Notifier:    notifier,
		CallTimeout: callTimeout,
	}, L, planMetrics.Hooks())

	// Alert source and ingestion loop
	src, err := source.New(source.Config{
		Kind:              appCfg.AlertSource,
		FeedURL:           appCfg.FeedURL,
		OpenWeatherAPIKey: appCfg.OpenWeatherAPIKey,
		Gazetteer:         catalog,
	})
	if err != nil {
		return fmt.Errorf("alert source: %w", err)
	}

	ingestMetrics := ingest.NewMetrics(m.Registry())
	loop := ingest.New(ingest.Config{
		Source:      src,
		Store:       alerts,
		Bank:        bank,
		Geocoder:    geocoder,
		Gazetteer:   catalog,
		Interval:    time.Duration(appCfg.PollIntervalSeconds) * time.Second,
		CallTimeout: callTimeout,
	}, L, ingestMetrics.Hooks())

	// label the loop's DB queries so they are distinguishable from request traffic
	stopIngest := loop.Start(postgres.WithOperation(ctx, "ingest"))
	// covers early returns; after a completed budgeted stop this returns at once
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second)
		defer scancel()
		if err := stopIngest(sctx); err != nil {
			L.Error(ctx, err, "failed to stop ingest loop")
		}
	}()

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	// setup readiness checks, currently just the shutdown gate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness is always true if the app is able to respond
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// start admin/ops listener. sg restricts inbound to internal monitoring infrastructure.
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic here
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling, and
	// annotate the request span with its query totals.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rctx := postgres.NewReqDBStatsContext(postgres.WithHTTPMethod(req.Context(), req.Method))
			next.ServeHTTP(w, req.WithContext(rctx))
			if s, ok := postgres.ReqDBStatsFromContext(rctx); ok && s.QueryCount > 0 {
				trace.SpanFromContext(rctx).SetAttributes(
					attribute.Int("db.query_count", s.QueryCount),
					attribute.Int("db.error_count", s.ErrorCount),
					attribute.Float64("db.total_seconds", s.TotalDuration.Seconds()),
				)
			}
		})
	})

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded
	r.Use(httpmw.MaxBody(1024 * 64)) // 64KB to start with may adjust after i see real traffic

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes
	alertapiHTTP := alertapi.New(L, alertapi.Deps{
		Alerts: alerts,
		Plans:  orchestrator,
		Memory: bank,
	})
	alertapiHTTP.RegisterRoutes(r)

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response, innermost is last to see request and first to see response but
	// has access to the full rich context from outer middleware and handlers
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// WithPublicEndpointFn is the replacement for WithPublicEndpoint()
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware, outer so downstream middleware
	// and handlers can use the resolved client ip from context for consistency and security
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h) // request ID

	// Recovery middleware to recover and log panics and serve 500 response.
	// Outer to catch panics from any downstream middleware or handlers
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	alertapiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// Start alertapi HTTP server with middleware and handlers
	alertapiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, alertapiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start alertapi http listener")
		return err
	}
	defer func() {
		err := alertapiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop alertapi http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd.
	// Ingestion and both listeners are up at this point.
	if err := notifySystemd(readyState(src.Name(), appCfg.PollIntervalSeconds)...); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// tell systemd we are stopping so it extends the stop timeout window
	if err := notifySystemd("STOPPING=1", "STATUS=draining"); err != nil && !errors.Is(err, errNotifySocketUnset) {
		L.Warn(context.Background(), "failed to notify systemd of shutdown", "error", err)
	}

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Wait for in-flight requests to finish and for load balancer
	// to detect unhealthy and stop sending new requests.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"alertapi http server", alertapiHTTPStop},
		{"ingest loop", stopIngest},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	return nil
}

// errNotifySocketUnset is returned when the process was not started by
// systemd with Type=notify.
var errNotifySocketUnset = errors.New("NOTIFY_SOCKET not set, skipping systemd notify")

// readyState is the notify payload sent once ingestion and the listeners
// are running. STATUS shows up in `systemctl status`.
func readyState(source string, pollSeconds int) []string {
	return []string{
		"READY=1",
		fmt.Sprintf("STATUS=ingesting alerts from %s every %ds", source, pollSeconds),
	}
}

// notifySystemd sends newline-separated state assignments to the systemd
// notify socket.
func notifySystemd(states ...string) error {
	if len(states) == 0 {
		return errors.New("systemd notify: no state given")
	}
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return errNotifySocketUnset
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte(strings.Join(states, "\n"))); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
