// Copyright 2025 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// The ct_front_server binary runs the submission front-end of a CT log
// node.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/tomasen/realip"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/klog/v2"

	"github.com/google/trillian"

	"github.com/google/ct-log-front/backend"
	"github.com/google/ct-log-front/cluster"
	"github.com/google/ct-log-front/ctfront"
	"github.com/google/ct-log-front/ctfront/cache"
	"github.com/google/ct-log-front/ctfront/storage"
	"github.com/google/ct-log-front/ctfront/storage/mysql"
	"github.com/google/ct-log-front/ctfront/storage/postgresql"
	"github.com/google/ct-log-front/proxy"
	"github.com/google/ct-log-front/schedule"
)

var (
	httpEndpoint       = flag.String("http_endpoint", "localhost:6962", "Endpoint for HTTP (host:port)")
	metricsEndpoint    = flag.String("metrics_endpoint", "", "Endpoint for serving metrics; if left empty, metrics are served on --http_endpoint")
	logConfig          = flag.String("log_config", "", "File holding the log config in YAML")
	rpcBackend         = flag.String("log_rpc_server", "", "Backend specification (host:port) of the Trillian log server")
	rpcDeadline        = flag.Duration("rpc_deadline", 10*time.Second, "Deadline for backend RPC requests")
	dbConn             = flag.String("entry_db", "", "Entry database, as driver://datasource (mysql or postgresql)")
	etcdServers        = flag.String("etcd_servers", "", "A comma-separated list of etcd servers; empty disables clustering")
	etcdPrefix         = flag.String("etcd_prefix", "ctfront", "Keyspace prefix for cluster state in etcd")
	nodeID             = flag.String("node_id", "", "Identity of this node within the cluster; defaults to --http_endpoint")
	sthRefresh         = flag.Duration("get_sth_interval", 180*time.Second, "Interval between tree head refreshes")
	proxyTimeout       = flag.Duration("proxy_timeout", 30*time.Second, "Timeout for requests forwarded to peers")
	maxQueuePerSecond  = flag.Float64("max_queue_per_second", 0, "Submission rate above which the frontend reports saturation (0 = unlimited)")
	sctCacheSize       = flag.Int("sct_cache_size", 4096, "Number of recently issued SCTs to remember for duplicate submissions (0 disables)")
	sctCacheTTL        = flag.Duration("sct_cache_ttl", time.Hour, "Lifetime of cached SCTs")
	workers            = flag.Int("workers", 0, "Worker pool size; 0 means one per CPU")
	maskInternalErrors = flag.Bool("mask_internal_errors", false, "Don't return error strings with Internal Server Error HTTP responses")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	ctx := context.Background()

	cfg, err := ctfront.ConfigFromFile(*logConfig)
	if err != nil {
		klog.Exitf("Failed to read config: %v", err)
	}

	klog.CopyStandardLogTo("WARNING")
	klog.Info("**** CT log front-end starting ****")

	if len(*rpcBackend) == 0 {
		klog.Exit("Need a --log_rpc_server backend")
	}
	klog.Infof("Dialling backend: %v", *rpcBackend)
	conn, err := grpc.NewClient(*rpcBackend,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultServiceConfig(`{"loadBalancingConfig": [{"round_robin":{}}]}`))
	if err != nil {
		klog.Exitf("Could not dial RPC server %v: %v", *rpcBackend, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			klog.Warningf("Failed to close RPC connection: %v", err)
		}
	}()

	logClient, err := newLogClient(conn, cfg)
	if err != nil {
		klog.Exitf("Failed to set up log backend: %v", err)
	}

	entries, err := openEntryDB(ctx, *dbConn)
	if err != nil {
		klog.Exitf("Failed to open entry database: %v", err)
	}

	// Fetch an initial tree head so the cluster controller has something
	// to compare against from the start.
	initCtx, initCancel := context.WithTimeout(ctx, *rpcDeadline)
	if _, err := logClient.UpdateSTH(initCtx); err != nil {
		klog.Warningf("No initial tree head available: %v", err)
	}
	initCancel()

	opts := ctfront.InstanceOptions{
		Frontend:                  logClient,
		LogLookup:                 logClient,
		Storage:                   entries,
		Deadline:                  *rpcDeadline,
		MaxLeafEntriesPerResponse: cfg.MaxEntries(),
		StalenessCheckDelay:       cfg.StalenessDelay(),
		AcceptCertificates:        cfg.AcceptsCertificates(),
		AcceptSignedData:          cfg.AcceptSignedData,
		MaskInternalErrors:        *maskInternalErrors,
		Workers:                   *workers,
	}
	if c := cache.NewSCTCache(cache.Option{Size: *sctCacheSize, TTL: *sctCacheTTL}); c != nil {
		opts.SCTCache = c
	}
	if !cfg.IsMirror {
		roots := ctfront.NewPEMCertPool()
		for _, pemFile := range cfg.RootsPEMFile {
			if err := roots.AppendCertsFromPEMFile(pemFile); err != nil {
				klog.Exitf("Failed to read trusted roots: %v", err)
			}
		}
		checker := ctfront.NewCertChecker(cfg.ValidationOpts(roots))
		opts.Submission = ctfront.NewSubmissionHandler(checker)
	}

	var controller *cluster.EtcdController
	if len(*etcdServers) > 0 {
		etcdClient, err := clientv3.New(clientv3.Config{
			Endpoints:   strings.Split(*etcdServers, ","),
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			klog.Exitf("Failed to connect to etcd at %v: %v", *etcdServers, err)
		}
		defer func() {
			if err := etcdClient.Close(); err != nil {
				klog.Warningf("Failed to close etcd client: %v", err)
			}
		}()

		id := *nodeID
		if len(id) == 0 {
			id = *httpEndpoint
		}
		klog.Infof("Announcing our presence under %s/nodes/%s", *etcdPrefix, id)
		controller, err = cluster.NewEtcdController(ctx, etcdClient, *etcdPrefix, id, *httpEndpoint, logClient.CurrentSTH)
		if err != nil {
			klog.Exitf("Failed to set up cluster controller: %v", err)
		}
		defer func() {
			if err := controller.Close(); err != nil {
				klog.Warningf("Failed to close cluster controller: %v", err)
			}
		}()

		opts.Controller = controller
		opts.Proxy = proxy.New(controller.FreshNodes, *proxyTimeout)
	}

	inst, err := ctfront.SetUpInstance(ctx, opts)
	if err != nil {
		klog.Exitf("Failed to set up front-end instance: %v", err)
	}

	runCtx, stopTasks := context.WithCancel(ctx)
	defer stopTasks()
	inst.Run(runCtx)
	defer inst.Shutdown()

	if *sthRefresh > 0 {
		go schedule.Every(runCtx, *sthRefresh, func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, *rpcDeadline)
			defer cancel()
			sth, err := logClient.UpdateSTH(ctx)
			if err != nil {
				klog.Warningf("Failed to refresh tree head: %v", err)
				return
			}
			klog.V(1).Infof("Refreshed tree head: size=%d", sth.TreeSize)
			if controller != nil {
				if err := controller.PublishSTH(ctx, sth); err != nil {
					klog.Warningf("Failed to publish tree head: %v", err)
				}
			}
		})
	}

	// Allow cross-origin requests to the log handlers. This is safe: the
	// log is public and unauthenticated, so cross-site scripting attacks
	// are not a concern.
	router := mux.NewRouter()
	for path, handler := range inst.Handlers() {
		router.Path(path).Handler(handler)
	}
	router.HandleFunc("/healthz", func(resp http.ResponseWriter, req *http.Request) {
		if _, err := resp.Write([]byte("ok")); err != nil {
			klog.V(1).Infof("Failed to write health response: %v", err)
		}
	})

	metricsAt := *metricsEndpoint
	if metricsAt == "" || metricsAt == *httpEndpoint {
		router.Path("/metrics").Handler(promhttp.Handler())
	} else {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())
			metricsServer := http.Server{Addr: metricsAt, Handler: metricsMux}
			err := metricsServer.ListenAndServe()
			klog.Warningf("Metrics server exited: %v", err)
		}()
	}

	handler := cors.AllowAll().Handler(logRemoteAddr(router))
	srv := http.Server{Addr: *httpEndpoint, Handler: handler}

	shutdownWG := new(sync.WaitGroup)
	go awaitSignal(func() {
		shutdownWG.Add(1)
		defer shutdownWG.Done()
		// Allow 60s for pending requests to finish, then terminate any
		// stragglers.
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		klog.Info("Shutting down HTTP server...")
		if err := srv.Shutdown(ctx); err != nil {
			klog.Warningf("HTTP server shutdown: %v", err)
		}
		klog.Info("HTTP server shutdown")
	})

	err = srv.ListenAndServe()
	if err != http.ErrServerClosed {
		klog.Warningf("Server exited: %v", err)
	}
	shutdownWG.Wait()
	klog.Flush()
}

func newLogClient(conn *grpc.ClientConn, cfg *ctfront.Config) (*backend.LogClient, error) {
	var opts backend.Options
	opts.LogID = cfg.LogID
	opts.MaxQueuePerSecond = *maxQueuePerSecond
	if !cfg.IsMirror {
		signer, err := backend.LoadPrivateKey(cfg.PrivateKeyPEMFile)
		if err != nil {
			return nil, err
		}
		opts.Signer = signer
	}
	return backend.New(trillian.NewTrillianLogClient(conn), opts)
}

func openEntryDB(ctx context.Context, dbConn string) (storage.EntrySource, error) {
	if len(dbConn) == 0 {
		return nil, fmt.Errorf("need an --entry_db")
	}
	return storage.NewEntrySource(ctx, dbConn, map[string]func(context.Context, string) (storage.EntrySource, error){
		"mysql": func(ctx context.Context, dsn string) (storage.EntrySource, error) {
			return mysql.NewEntrySource(ctx, dsn)
		},
		"postgresql": func(ctx context.Context, dsn string) (storage.EntrySource, error) {
			return postgresql.NewEntrySource(ctx, dsn)
		},
	})
}

// logRemoteAddr tags requests with the address the client appears to come
// from, seen through any intermediate proxies.
func logRemoteAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if remote := realip.FromRequest(r); len(remote) > 0 {
			klog.V(2).Infof("%s %s from %s", r.Method, r.URL.Path, remote)
		}
		next.ServeHTTP(w, r)
	})
}

// awaitSignal waits for the standard termination signals, then runs the
// given function; run it as a separate goroutine.
func awaitSignal(doneFn func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigs
	klog.Warningf("Signal received: %v", sig)
	klog.Flush()

	doneFn()
}
