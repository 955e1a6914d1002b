/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command goproxy is the daemon entry point: it parses flags, assembles a
// goproxy.Proxy, writes the PID/port-file bookkeeping the core exposes but
// never persists itself, and blocks until a termination signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	goproxy "github.com/nabbar/goproxy"
	"github.com/nabbar/goproxy/certs"
	"github.com/nabbar/goproxy/event"
	liblog "github.com/nabbar/goproxy/logger"
)

// flags is the immutable set resolved once at startup, the Go analogue of
// "the flags struct is duplicated by fork": every executor goroutine reads
// from the same Config built here, never re-parsing os.Args.
type flags struct {
	Hostname        string
	Hostnames       []string
	Port            int
	Ports           []int
	PortFile        string
	Backlog         int
	Threadless      bool
	NumWorkers      int
	LocalExecutor   bool
	BasicAuth       string
	Plugins         []string
	WorkKlass       string
	EnableEvents    bool
	EnableMetrics   bool
	EnableSSHTunnel bool
	PidFile         string
	LogLevel        string
	LogFile         string
	LogFormat       string
	OpenFileLimit   int
	DataDir         string
	OpenSSL         string
	InterceptTLS    bool
	CACert          string
	CAKey           string
	RedisURL        string
	MetricsAddr     string
}

func main() {
	os.Exit(run())
}

func run() int {
	v := viper.New()
	f := &flags{}

	root := &cobra.Command{
		Use:   "goproxy",
		Short: "Pluggable TLS-interception-capable HTTP/HTTPS proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(v, cmd, f)
			return runProxy(f)
		},
	}

	registerFlags(root, f)

	if err := root.Execute(); err != nil {
		liblog.ErrorLevel.Logf("startup failed: %v", err)
		return 1
	}
	return 0
}

func registerFlags(cmd *cobra.Command, f *flags) {
	fl := cmd.Flags()
	fl.StringVar(&f.Hostname, "hostname", "127.0.0.1", "primary listener host")
	fl.StringSliceVar(&f.Hostnames, "hostnames", nil, "additional listener hosts, paired with --ports")
	fl.IntVar(&f.Port, "port", 8899, "primary listener port (0 for ephemeral)")
	fl.IntSliceVar(&f.Ports, "ports", nil, "additional listener ports, paired with --hostnames")
	fl.StringVar(&f.PortFile, "port-file", "", "file to write the realized listener addresses to")
	fl.IntVar(&f.Backlog, "backlog", 1024, "requested listen(2) backlog (reported in the bind log; listeners use the system default backlog)")
	fl.BoolVar(&f.Threadless, "threadless", true, "threadless executor (one goroutine per executor drives many connections); the only mode this engine has, the value is not read")
	fl.IntVar(&f.NumWorkers, "num-workers", 0, "acceptor workers per listener (0 = NumCPU)")
	fl.BoolVar(&f.LocalExecutor, "local-executor", false, "one executor per worker instead of a shared pool (accepted for CLI compatibility, unused by this engine)")
	fl.StringVar(&f.BasicAuth, "basic-auth", "", "user:pass for CONNECT auth (accepted for CLI compatibility, not enforced by this engine)")
	fl.StringSliceVar(&f.Plugins, "plugins", nil, "plugin names in dispatch order (accepted for CLI compatibility, no plugins are loaded by name)")
	fl.StringVar(&f.WorkKlass, "work-klass", "", "override the Work implementation (unused by this engine, accepted for CLI compatibility)")
	fl.BoolVar(&f.EnableEvents, "enable-events", false, "publish lifecycle events to the event bus")
	fl.BoolVar(&f.EnableMetrics, "enable-metrics", false, "expose Prometheus metrics")
	fl.BoolVar(&f.EnableSSHTunnel, "enable-ssh-tunnel", false, "accept SSH-tunneled connections (collaborator, not implemented by this engine)")
	fl.StringVar(&f.PidFile, "pid-file", "", "file to write this process's PID to")
	fl.StringVar(&f.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fl.StringVar(&f.LogFile, "log-file", "", "log file path, empty for stderr")
	fl.StringVar(&f.LogFormat, "log-format", "text", "log format: text or json")
	fl.IntVar(&f.OpenFileLimit, "open-file-limit", 0, "RLIMIT_NOFILE target (accepted for CLI compatibility, the limit is not changed by this engine)")
	fl.StringVar(&f.DataDir, "data-dir", ".", "directory for CA material and plugin state (accepted for CLI compatibility, unused by this engine)")
	fl.StringVar(&f.OpenSSL, "openssl", "", "path to an openssl binary (collaborator, unused by this engine)")
	fl.BoolVar(&f.InterceptTLS, "intercept-tls", false, "perform TLS-MITM on CONNECT tunnels instead of relaying opaquely")
	fl.StringVar(&f.CACert, "ca-cert", "", "CA certificate PEM path for --intercept-tls; an ephemeral CA is generated unless both --ca-cert and --ca-key are set")
	fl.StringVar(&f.CAKey, "ca-key", "", "CA private key PEM path for --intercept-tls; an ephemeral CA is generated unless both --ca-cert and --ca-key are set")
	fl.StringVar(&f.RedisURL, "redis-url", "", "optional redis:// URL backing --enable-events across processes")
	fl.StringVar(&f.MetricsAddr, "metrics-addr", "127.0.0.1:9090", "listen address for --enable-metrics")
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, f *flags) {
	v.SetEnvPrefix("GOPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(cmd.Flags())

	// Overlay GOPROXY_* environment values onto every flag the command
	// line left unset; Set writes through to the bound fields of f.
	for _, k := range v.AllKeys() {
		if fl := cmd.Flags().Lookup(k); fl != nil && !fl.Changed && v.IsSet(k) {
			_ = cmd.Flags().Set(k, v.GetString(k))
		}
	}
}

func runProxy(f *flags) error {
	configureLogger(f)

	endpoints := []goproxy.Endpoint{{Name: "primary", Host: f.Hostname, Port: f.Port}}
	for i, h := range f.Hostnames {
		port := f.Port
		if i < len(f.Ports) {
			port = f.Ports[i]
		}
		endpoints = append(endpoints, goproxy.Endpoint{Name: fmt.Sprintf("extra-%d", i), Host: h, Port: port})
	}

	var store *certs.Store
	if f.InterceptTLS {
		ca, cerr := loadOrGenerateCA(f)
		if cerr != nil {
			return cerr
		}
		store = certs.NewStore(ca)
	}

	var bus event.Bus
	if f.EnableEvents {
		if f.RedisURL != "" {
			opt, perr := redis.ParseURL(f.RedisURL)
			if perr != nil {
				return fmt.Errorf("parsing --redis-url: %w", perr)
			}
			bus = event.NewRedis(redis.NewClient(opt), "goproxy:events")
		} else {
			bus = event.New()
		}
		if f.EnableMetrics {
			bus = event.NewMetrics(prometheus.DefaultRegisterer).Wrap(bus)
		}
	}

	if f.EnableMetrics {
		go serveMetrics(f.MetricsAddr)
	}

	proxy, perr := goproxy.New(goproxy.Config{
		Endpoints:    endpoints,
		Backlog:      f.Backlog,
		NumWorkers:   f.NumWorkers,
		InterceptTLS: f.InterceptTLS,
		Certs:        store,
		Bus:          bus,
	})
	if perr != nil {
		return perr
	}

	if err := writePidFile(f.PidFile); err != nil {
		return err
	}
	if err := writePortFile(f.PortFile, proxy); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	go func() {
		s := <-sig
		liblog.InfoLevel.Logf("received signal %s, shutting down", s)
		cancel()
	}()

	if err := proxy.Run(ctx); err != nil {
		return err
	}
	return nil
}

func configureLogger(f *flags) {
	liblog.SetLevel(liblog.GetLevelString(f.LogLevel))
	if f.LogFile != "" {
		if fh, err := os.OpenFile(f.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			liblog.SetOutput(fh)
		}
	}
	liblog.SetJSONFormat(strings.EqualFold(f.LogFormat, "json"))
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		liblog.WarnLevel.Logf("metrics listener stopped: %v", err)
	}
}

func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func writePortFile(path string, p *goproxy.Proxy) error {
	if path == "" {
		return nil
	}
	var b strings.Builder
	for _, a := range p.RealizedAddrs() {
		b.WriteString(a.String())
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// loadOrGenerateCA loads the configured CA material, or mints a throwaway
// self-signed root when either --ca-cert or --ca-key is unset, so
// --intercept-tls works out of the box in development.
func loadOrGenerateCA(f *flags) (*certs.CA, error) {
	if f.CACert != "" && f.CAKey != "" {
		ca, err := certs.LoadCA(f.CACert, f.CAKey)
		if err != nil {
			return nil, err
		}
		return ca, nil
	}
	ca, err := certs.GenerateSelfSignedCA("goproxy ephemeral root")
	if err != nil {
		return nil, err
	}
	liblog.WarnLevel.Logf("no --ca-cert/--ca-key configured, generated an ephemeral CA for this process only")
	return ca, nil
}
