// fittrail ingests FIT, TCX and GPX activity files into a relational
// store and serves the normalized activities over an HTTP API.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"fittrail/pkg/api"
	"fittrail/pkg/database"
	"fittrail/pkg/importer"
	"fittrail/pkg/normalizer"
)

var domain = flag.String("domain", "", "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
var dbType = flag.String("db-type", "sqlite", "Type of the database driver: sqlite, chai, genji, duckdb, or pgx (postgresql)")
var dbPath = flag.String("db-path", "", "Path to the database file (defaults to the current folder, applicable for embedded drivers)")
var dbConn = flag.String("db-conn", "", "Raw connection string override (applicable for pgx driver)")
var dbHost = flag.String("db-host", "127.0.0.1", "Database host (applicable for pgx driver)")
var dbPort = flag.Int("db-port", 5432, "Database port (applicable for pgx driver)")
var dbUser = flag.String("db-user", "postgres", "Database user (applicable for pgx driver)")
var dbPass = flag.String("db-pass", "", "Database password (applicable for pgx driver)")
var dbName = flag.String("db-name", "fittrail", "Database name (applicable for pgx driver)")
var pgSSLMode = flag.String("pg-ssl-mode", "prefer", "PostgreSQL SSL mode: disable, allow, prefer, require, verify-ca, or verify-full")
var port = flag.Int("port", 8765, "Port for running the server")
var importPath = flag.String("import", "", "File or directory of activity files to import on startup")
var importOnly = flag.Bool("import-only", false, "Exit after the startup import instead of serving")
var forceReimport = flag.Bool("force-reimport", false, "Delete and rewrite activities whose files were already imported")
var importWorkers = flag.Int("import-workers", 4, "Parallel workers for batch imports")
var movingThreshold = flag.Float64("moving-threshold", 1.0, "Speed in m/s below which a sample counts as stopped")
var elevationWindow = flag.Int("elevation-window", 9, "Moving-average window, in samples, for elevation smoothing")
var maxPoints = flag.Int("max-points", 2000, "Default point budget for sample and route responses")
var cacheTTL = flag.Duration("cache-ttl", 30*time.Second, "API response cache TTL; 0 disables caching")
var version = flag.Bool("version", false, "Show the application version")

// CompileVersion is replaced at build time via -ldflags.
var CompileVersion = "dev"

// withServerHeader tags every response and answers HEAD / immediately so
// load balancers can probe liveness without a body.
func withServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "fittrail/"+CompileVersion)
		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// serveWithDomain runs :80 for the ACME HTTP-01 challenge plus a redirect
// to https, and :443 with certificates managed by Let's Encrypt. Errors
// are logged, never fatal: a cert hiccup should not take the API down.
func serveWithDomain(domain string, handler http.Handler) {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("certs"),
		HostPolicy: func(ctx context.Context, host string) error {
			if host == domain || host == "www."+domain {
				return nil
			}
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	go func() {
		mux80 := http.NewServeMux()
		mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
		mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			target := "https://" + domain + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})
		log.Printf("HTTP server (ACME+redirect) on :80")
		if err := (&http.Server{
			Addr:              ":80",
			Handler:           mux80,
			ReadHeaderTimeout: 10 * time.Second,
		}).ListenAndServe(); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	tlsCfg := certMgr.TLSConfig()
	tlsCfg.MinVersion = tls.VersionTLS12

	log.Printf("HTTPS server for %s on :443", domain)
	if err := (&http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}).ListenAndServeTLS("", ""); err != nil {
		log.Printf("HTTPS server error: %v", err)
	}
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("fittrail version %s\n", CompileVersion)
		return
	}

	if *domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Println("binding to :80 / :443 requires super-user rights; run with sudo or as root")
	}

	dbCfg := database.Config{
		DBType:    *dbType,
		DBPath:    *dbPath,
		DBConn:    *dbConn,
		DBHost:    *dbHost,
		DBPort:    *dbPort,
		DBUser:    *dbUser,
		DBPass:    *dbPass,
		DBName:    *dbName,
		PGSSLMode: *pgSSLMode,
		Port:      *port,
	}
	db, err := database.NewDatabase(dbCfg)
	if err != nil {
		log.Fatalf("DB init: %v", err)
	}
	defer db.Close()
	if err := db.InitSchema(dbCfg); err != nil {
		log.Fatalf("DB schema: %v", err)
	}

	imp := &importer.Importer{
		DB: db,
		Normalizer: normalizer.Config{
			MovingSpeedThreshold:     *movingThreshold,
			ElevationSmoothingWindow: *elevationWindow,
		},
		Workers: *importWorkers,
	}

	if *importPath != "" {
		report, err := imp.ImportPath(context.Background(), *importPath, *forceReimport)
		if err != nil {
			log.Fatalf("import: %v", err)
		}
		fmt.Printf("batch %s: imported %d, duplicates %d, failed %d, rejected samples %d\n",
			report.BatchID, report.Imported, report.Duplicates, len(report.Failed), report.RejectedSamples)
		for _, failure := range report.Failed {
			fmt.Printf("  failed %s: %s\n", failure.Path, failure.Reason)
		}
	}
	if *importOnly {
		return
	}

	handler := api.NewHandler(db, imp, *maxPoints, *cacheTTL)
	defer handler.Close()
	rootHandler := withServerHeader(handler.Router())

	if *domain != "" {
		serveWithDomain(*domain, rootHandler)
		return
	}
	addr := fmt.Sprintf(":%d", *port)
	log.Printf("HTTP server on http://localhost%s", addr)
	if err := http.ListenAndServe(addr, rootHandler); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}
