package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/cc/internal/checkpoint"
	"github.com/oriys/cc/internal/config"
	"github.com/oriys/cc/internal/control"
	"github.com/oriys/cc/internal/domain"
	"github.com/oriys/cc/internal/instancecache"
	"github.com/oriys/cc/internal/launch"
	"github.com/oriys/cc/internal/locks"
	"github.com/oriys/cc/internal/logging"
	"github.com/oriys/cc/internal/metrics"
	"github.com/oriys/cc/internal/monitor"
	"github.com/oriys/cc/internal/ncclient"
	"github.com/oriys/cc/internal/powerstate"
	"github.com/oriys/cc/internal/resourcecache"
	"github.com/oriys/cc/internal/scheduler"
	"github.com/oriys/cc/internal/statestore"
	"github.com/oriys/cc/internal/tracing"
	"github.com/oriys/cc/internal/vnet"
)

func serveCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cluster controller daemon",
		Long:  "Load config, rehydrate the checkpoint, and serve CLC verbs plus a Prometheus /metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configOverrideFile, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			logging.SetLevelFromString(cfg.LogLevel)
			logging.InitStructured("text", cfg.LogLevel)

			ctx := context.Background()
			if err := tracing.Init(ctx, tracing.Config{
				Enabled:     cfg.Tracing.Enabled,
				Exporter:    cfg.Tracing.Exporter,
				Endpoint:    cfg.Tracing.Endpoint,
				ServiceName: "cc",
				SampleRate:  cfg.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer tracing.Shutdown(context.Background())

			metrics.Init()

			resources := resourcecache.New()
			instances := instancecache.New()
			lockRegistry := locks.NewRegistry()

			ckpt, err := checkpoint.Open(cfg.StateDir)
			if err != nil {
				return fmt.Errorf("open checkpoint store: %w", err)
			}
			defer ckpt.Close()
			rehydrate(ckpt, resources, instances, cfg)

			nc := ncclient.NewHTTPClient(ncclient.DefaultOpTimeoutPerNode)
			net := vnet.NewAllocator(cfg.VNetCIDR)

			mirror := newStateMirror(cfg)
			defer mirror.Close()
			mirrorPeriod := cfg.NCPollingFrequency
			mirrorMaxAge := 3 * mirrorPeriod
			mirrorCtx, stopMirror := context.WithCancel(ctx)
			defer stopMirror()
			go runMirrorLoop(mirrorCtx, mirror, resources, instances, mirrorPeriod)

			wake := powerstate.WakeFunc(func(mac string) error {
				logging.Op().Info("power: wake-on-lan requested", "mac", mac)
				return nil
			})
			powerDown := powerstate.PowerDownFunc(func(hostname string) error {
				idx, n := resources.FindByHostname(hostname)
				if n == nil {
					return fmt.Errorf("power-down: unknown host %s", hostname)
				}
				_ = idx
				return nc.PowerDown(ctx, n.NCURL, domain.Metadata{})
			})

			pipeline := &launch.Pipeline{
				Resources:  resources,
				Instances:  instances,
				Locks:      lockRegistry,
				NC:         nc,
				Net:        net,
				Wake:       wake,
				Policy:     scheduler.Policy(cfg.SchedPolicy),
				WakeThresh: cfg.PowerWakeThresh,
				OpTimeout:  ncclient.DefaultOpTimeout,
			}
			pipeline.SetCursor(cfg.SchedState)

			loop := &monitor.Loop{
				Resources:   resources,
				Instances:   instances,
				Locks:       lockRegistry,
				NC:          nc,
				WakeThresh:  cfg.PowerWakeThresh,
				IdleThresh:  cfg.PowerIdleThresh,
				InstTimeout: cfg.InstanceTimeout,
				Period:      cfg.NCPollingFrequency,
				Wake:        wake,
				PowerDown:   powerDown,
			}
			monitorCtx, stopMonitor := context.WithCancel(ctx)
			defer stopMonitor()
			go loop.Run(monitorCtx)

			ctrl := &control.Controller{
				Instances:  instances,
				Resources:  resources,
				Locks:      lockRegistry,
				NC:         nc,
				Net:        net,
				Launch:     pipeline,
				Checkpoint: ckpt,
				OpTimeout:  ncclient.DefaultOpTimeout,
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"status":"ok","service":"cc"}`))
			})
			mountVerbs(mux, ctrl)
			mux.HandleFunc("/ClusterState", verbHandler("ClusterState", func(ctx context.Context, r *http.Request) (any, error) {
				return readMirroredState(ctx, mirror, mirrorMaxAge)
			}))

			httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

			errCh := make(chan error, 1)
			go func() {
				logging.Op().Info("cluster controller started", "addr", cfg.ListenAddr, "nodes", len(cfg.Nodes), "sched_policy", cfg.SchedPolicy)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				logging.Op().Info("shutdown signal received", "signal", sig.String())
			case err := <-errCh:
				logging.Op().Error("http server error", "error", err)
			}

			stopMonitor()
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shCtx)
			logging.Default().Close()
			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}

// rehydrate loads the checkpointed instance/resource snapshots, falling
// back to a fresh fleet built from cfg.Nodes when the checkpoint is empty
// (first boot, spec.md §4.9).
func rehydrate(ckpt *checkpoint.Store, resources *resourcecache.Cache, instances *instancecache.Cache, cfg *config.Config) {
	var nodeSnapshot []*domain.NodeRecord
	if err := ckpt.Load(checkpoint.RegionResources, &nodeSnapshot); err != nil {
		logging.Op().Warn("checkpoint: resource region load failed, starting fresh", "error", err)
	}
	if len(nodeSnapshot) > 0 {
		for _, n := range nodeSnapshot {
			resources.Add(n)
		}
	} else {
		for _, host := range cfg.Nodes {
			resources.Add(&domain.NodeRecord{
				Hostname:      host,
				NCPort:        cfg.NCPort,
				NCService:     cfg.NCService,
				State:         domain.NodeDown,
				StateChangeTs: time.Now(),
			})
		}
	}

	var instSnapshot []*domain.InstanceRecord
	if err := ckpt.Load(checkpoint.RegionInstances, &instSnapshot); err != nil {
		logging.Op().Warn("checkpoint: instance region load failed, starting fresh", "error", err)
	}
	for _, rec := range instSnapshot {
		instances.Refresh(rec)
	}
}

// mountVerbs wires one endpoint per CLC verb onto mux: a thin
// JSON-in/JSON-out adapter whose request bodies carry the verb's own fields
// (e.g. "meta", "params", "instance_ids"). The HTTP method is not checked.
// The wire dispatch itself is out of scope (spec.md §1). ConfigureNetwork,
// FlushNetwork, StartNetwork and StopNetwork are not mounted.
func mountVerbs(mux *http.ServeMux, ctrl *control.Controller) {
	mux.HandleFunc("/RunInstances", verbHandler("RunInstances", func(ctx context.Context, r *http.Request) (any, error) {
		var req struct {
			Meta   domain.Metadata             `json:"meta"`
			Params domain.RunInstancesParams   `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return ctrl.RunInstances(ctx, req.Meta, req.Params)
	}))
	mux.HandleFunc("/DescribeInstances", verbHandler("DescribeInstances", func(ctx context.Context, r *http.Request) (any, error) {
		var req struct {
			InstanceIDs []string `json:"instance_ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		return ctrl.DescribeInstances(ctx, req.InstanceIDs), nil
	}))
	mux.HandleFunc("/RebootInstances", verbHandler("RebootInstances", func(ctx context.Context, r *http.Request) (any, error) {
		var req struct {
			Meta        domain.Metadata `json:"meta"`
			InstanceIDs []string        `json:"instance_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return nil, ctrl.RebootInstances(ctx, req.Meta, req.InstanceIDs)
	}))
	mux.HandleFunc("/TerminateInstances", verbHandler("TerminateInstances", func(ctx context.Context, r *http.Request) (any, error) {
		var req struct {
			Meta        domain.Metadata `json:"meta"`
			InstanceIDs []string        `json:"instance_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return ctrl.TerminateInstances(ctx, req.Meta, req.InstanceIDs), nil
	}))
	mux.HandleFunc("/GetConsoleOutput", verbHandler("GetConsoleOutput", func(ctx context.Context, r *http.Request) (any, error) {
		var req struct {
			Meta       domain.Metadata `json:"meta"`
			InstanceID string          `json:"instance_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return ctrl.GetConsoleOutput(ctx, req.Meta, req.InstanceID)
	}))
	mux.HandleFunc("/AttachVolume", verbHandler("AttachVolume", func(ctx context.Context, r *http.Request) (any, error) {
		var req struct {
			Meta domain.Metadata `json:"meta"`
			Op   domain.VolumeOp `json:"op"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return nil, ctrl.AttachVolume(ctx, req.Meta, req.Op)
	}))
	mux.HandleFunc("/DetachVolume", verbHandler("DetachVolume", func(ctx context.Context, r *http.Request) (any, error) {
		var req struct {
			Meta domain.Metadata `json:"meta"`
			Op   domain.VolumeOp `json:"op"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return nil, ctrl.DetachVolume(ctx, req.Meta, req.Op)
	}))
	mux.HandleFunc("/AssignAddress", verbHandler("AssignAddress", func(ctx context.Context, r *http.Request) (any, error) {
		var req domain.AddressOp
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return nil, ctrl.AssignAddress(ctx, req)
	}))
	mux.HandleFunc("/UnassignAddress", verbHandler("UnassignAddress", func(ctx context.Context, r *http.Request) (any, error) {
		var req domain.AddressOp
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return nil, ctrl.UnassignAddress(ctx, req)
	}))
	mux.HandleFunc("/DescribePublicAddresses", verbHandler("DescribePublicAddresses", func(ctx context.Context, r *http.Request) (any, error) {
		return ctrl.DescribePublicAddresses(ctx), nil
	}))
	mux.HandleFunc("/DescribeResources", verbHandler("DescribeResources", func(ctx context.Context, r *http.Request) (any, error) {
		return ctrl.DescribeResources(ctx), nil
	}))
	mux.HandleFunc("/DescribeNetworks", verbHandler("DescribeNetworks", func(ctx context.Context, r *http.Request) (any, error) {
		return ctrl.DescribeNetworks(ctx), nil
	}))
}

func verbHandler(verb string, fn func(ctx context.Context, r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		out, err := fn(r.Context(), r)
		entry := &logging.VerbLog{
			Verb:       verb,
			DurationMs: time.Since(start).Milliseconds(),
			Success:    err == nil,
		}
		if err != nil {
			entry.Error = err.Error()
			logging.Default().Log(entry)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		logging.Default().Log(entry)
		w.Header().Set("Content-Type", "application/json")
		if out == nil {
			w.Write([]byte(`{}`))
			return
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

const (
	mirrorKeyResources = "fleet:resources"
	mirrorKeyInstances = "fleet:instances"
	mirrorTTL          = 5 * time.Minute
)

// mirrorOnce and readMirroredState drive SetFresh/GetFresh (not the plain
// Set/Get) so a wedged runMirrorLoop — a worker process that stopped
// republishing — is reported as staleness rather than served silently as a
// live fleet view.

// newStateMirror builds the cross-process cache mirror (SPEC_FULL.md §11):
// an in-memory store by default, or an in-memory-fronted Redis store when
// cfg.Redis is enabled, so a second CC process (or a read-only dashboard)
// can observe the fleet without touching the mmap checkpoint file.
func newStateMirror(cfg *config.Config) statestore.Store {
	l1 := statestore.NewInMemory()
	if !cfg.Redis.Enabled {
		return l1
	}
	l2 := statestore.NewRedis(statestore.RedisConfig{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	return statestore.NewTiered(l1, l2, 10*time.Second)
}

// runMirrorLoop periodically republishes resource/instance snapshots into
// the mirror store until ctx is cancelled. It never holds a cache lock
// across the statestore write.
func runMirrorLoop(ctx context.Context, mirror statestore.Store, resources *resourcecache.Cache, instances *instancecache.Cache, period time.Duration) {
	if period <= 0 {
		period = config.MinPollingFrequency
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mirrorOnce(ctx, mirror, resources, instances)
		}
	}
}

func mirrorOnce(ctx context.Context, mirror statestore.Store, resources *resourcecache.Cache, instances *instancecache.Cache) {
	if data, err := json.Marshal(resources.Snapshot()); err == nil {
		if err := mirror.SetFresh(ctx, mirrorKeyResources, data, mirrorTTL); err != nil {
			logging.Op().Warn("state mirror: resource publish failed", "error", err)
		}
	}
	if data, err := json.Marshal(instances.Snapshot()); err == nil {
		if err := mirror.SetFresh(ctx, mirrorKeyInstances, data, mirrorTTL); err != nil {
			logging.Op().Warn("state mirror: instance publish failed", "error", err)
		}
	}
}

// readMirroredState serves the last published mirror snapshot, used by
// /ClusterState as a cheap cross-process read path distinct from the verb
// handlers, which always read the live in-process caches. maxAge bounds how
// old a republished snapshot may be before it is reported stale instead of
// served as current (SPEC_FULL.md §11); callers see which half of the fleet
// view (resources, instances) went stale independently, since runMirrorLoop
// publishes them as two separate keys.
func readMirroredState(ctx context.Context, mirror statestore.Store, maxAge time.Duration) (any, error) {
	out := struct {
		Resources      json.RawMessage `json:"resources"`
		Instances      json.RawMessage `json:"instances"`
		ResourcesStale bool            `json:"resources_stale"`
		InstancesStale bool            `json:"instances_stale"`
	}{}
	if data, _, err := mirror.GetFresh(ctx, mirrorKeyResources, maxAge); err == nil || err == statestore.ErrStale {
		out.Resources = data
		out.ResourcesStale = err == statestore.ErrStale
	}
	if data, _, err := mirror.GetFresh(ctx, mirrorKeyInstances, maxAge); err == nil || err == statestore.ErrStale {
		out.Instances = data
		out.InstancesStale = err == statestore.ErrStale
	}
	return out, nil
}
