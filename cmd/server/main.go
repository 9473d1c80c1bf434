package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"bridgesentinel/EVMRPC"
	"bridgesentinel/access"
	"bridgesentinel/config"
	"bridgesentinel/health"
	"bridgesentinel/locker"
	"bridgesentinel/monitor"
	"bridgesentinel/notify"
	"bridgesentinel/redis"
	"bridgesentinel/registry"
	"bridgesentinel/serviceprobe"
	"bridgesentinel/types"
	"bridgesentinel/workers"
	"bridgesentinel/workers/handlers"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
)

// identity used for changes that come from the config file
var configCaller = access.As("config-file")

func main() {
	log.Print("Starting bridge sentinel")

	configPath := os.Getenv("SENTINEL_CONFIG")
	if configPath == "" {
		configPath = config.DefaultPath
	}
	config.Init(configPath)
	cfg := config.Config

	if err := os.MkdirAll(cfg.Server.LogDir, 0o755); err != nil {
		log.Fatalf("error creating log dir: %v", err)
	}
	f, err := os.OpenFile(filepath.Join(cfg.Server.LogDir, fmt.Sprintf("log_%s.txt", time.Now().Format("2006-01-02"))), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file for writing: %v", err)
	}
	defer f.Close()

	log.SetOutput(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// notifications: log, in-memory buffer for the API, metrics, optional NATS
	recorder := &notify.Recorder{Limit: cfg.NotificationBuffer}
	notifiers := notify.Multi{notify.LogNotifier{}, recorder, notify.NewMetrics(prometheus.DefaultRegisterer)}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("bridge-sentinel"), nats.MaxReconnects(-1))
		if err != nil {
			log.Fatalf("error connecting to NATS: %v", err)
		}
		defer nc.Drain()
		notifiers = append(notifiers, notify.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix))
	}

	ac := setupAccess(cfg, notifiers)
	locks := locker.New()

	var journal monitor.Journal
	var reports health.ReportCache
	if cfg.Server.UseRedis {
		// without persistence do not continue
		store := redis.New(cfg.Server.RedisHost, cfg.Server.RedisPort)
		defer store.Close()
		if err := store.Ping(ctx); err != nil {
			log.Fatalf("error connecting to Redis: %v", err)
		}
		journal = store.Journal()
		reports = store.Reports()
	}

	var code registry.CodeInspector
	var chainProbe *EVMRPC.Probe
	if len(cfg.Probe.RPCList) > 0 {
		chainProbe, err = EVMRPC.NewProbe(EVMRPC.NewPool(cfg.Probe.RPCList, nil), cfg.NativePrice(), 0)
		if err != nil {
			log.Fatalf("error creating chain probe: %v", err)
		}
		code = chainProbe
	}

	global, _ := cfg.GlobalConfig()
	reg, err := registry.New(global, registry.Deps{Access: ac, Locks: locks, Notifier: notifiers, Code: code})
	if err != nil {
		log.Fatalf("error creating registry: %v", err)
	}
	seedBridges(cfg, reg)

	mon, err := monitor.New(reg, monitor.Deps{Access: ac, Locks: locks, Notifier: notifiers, Journal: journal})
	if err != nil {
		log.Fatalf("error creating monitor: %v", err)
	}
	if err := mon.Restore(ctx, reg.GetActiveBridges()); err != nil {
		log.Fatalf("error restoring security events: %v", err)
	}

	deps := health.Deps{
		Access:       ac,
		Locks:        locks,
		Notifier:     notifiers,
		Cache:        reports,
		Probes:       make(map[types.BridgeType]health.Probe),
		ProbeTimeout: cfg.Probe.Timeout,
		Parallelism:  cfg.Probe.Parallelism,
	}
	if chainProbe != nil {
		deps.DefaultProbe = chainProbe
	}
	for name, url := range cfg.Probe.Services {
		t, _ := types.ParseBridgeType(name)
		deps.Probes[t] = serviceprobe.New(url, cfg.Probe.Timeout, nil)
	}
	if deps.DefaultProbe == nil {
		log.Printf("no rpc_list configured, bridge types without a service probe cannot be checked")
	}
	checker, err := health.New(reg, mon, deps)
	if err != nil {
		log.Fatalf("error creating health checker: %v", err)
	}

	go func() {
		err := config.Watch(ctx, configPath, func(next *config.Configuration) {
			g, err := next.GlobalConfig()
			if err != nil {
				log.Printf("ignoring reloaded defaults: %v", err)
				return
			}
			if err := reg.SetGlobalConfig(configCaller, g); err != nil {
				log.Printf("error applying reloaded defaults: %v", err)
			}
		})
		if err != nil {
			log.Printf("config watch stopped: %v", err)
		}
	}()

	// worker threads:
	// * periodic health scan of every active bridge
	// * API serving HTTP server (serves as main worker thread)
	go workers.Worker_scanHealth(checker, reg, cfg.Probe.ScanInterval)

	api := &handlers.API{Access: ac, Registry: reg, Monitor: mon, Checker: checker, Recorder: recorder}
	workers.Worker_HTTP(workers.NewRouter(api, prometheus.DefaultGatherer))
}

// setupAccess grants the configured roles. The config file identity gets
// the registrar and config admin roles so seeds and reloads can be applied.
func setupAccess(cfg config.Configuration, notifier notify.Notifier) *access.Control {
	var superAdmins []string
	for id, roles := range cfg.Admins {
		for _, role := range roles {
			if role == string(access.RoleSuperAdmin) {
				superAdmins = append(superAdmins, id)
			}
		}
	}
	sort.Strings(superAdmins)

	ac := access.New(notifier, superAdmins...)
	root := access.As(superAdmins[0])

	grant := func(id string, role access.Role) {
		if ac.HasRole(id, role) {
			return
		}
		if err := ac.Grant(root, id, role); err != nil {
			log.Fatalf("error granting %s to %s: %v", role, id, err)
		}
	}
	for id, roles := range cfg.Admins {
		for _, name := range roles {
			role, _ := access.ParseRole(name)
			grant(id, role)
		}
	}
	grant(configCaller.ID, access.RoleRegistrar)
	grant(configCaller.ID, access.RoleConfigAdmin)
	return ac
}

func seedBridges(cfg config.Configuration, reg *registry.Registry) {
	seeds, err := cfg.BridgeConfigs()
	if err != nil {
		log.Fatalf("error reading bridge seeds: %v", err)
	}
	for _, seed := range seeds {
		id, err := reg.RegisterBridge(configCaller, seed)
		if err != nil {
			log.Printf("error registering bridge %q: %v", seed.Name, err)
			continue
		}
		log.Printf("Registered bridge %q as %s", seed.Name, id.Hex())
	}
}
