package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dnsscience/evreq/internal/metrics"
	"github.com/dnsscience/evreq/internal/reactor"
	"github.com/dnsscience/evreq/internal/rescode"
	"github.com/dnsscience/evreq/internal/resolver"
	"github.com/dnsscience/evreq/internal/respond"
	"github.com/dnsscience/evreq/internal/srvconfig"
	"github.com/dnsscience/evreq/internal/wire"
)

var (
	resolvConfPath = flag.String("resolv-conf", "/etc/resolv.conf", "resolv.conf-style file to load nameservers/search list from")
	srvConfigPath  = flag.String("config", "", "Path to YAML sidecar config file (overrides built-in defaults)")
	serverListen   = flag.String("server-listen", "", "UDP address to answer queries on (overrides config, empty disables the server port)")
	metricsListen  = flag.String("metrics-listen", "", "Prometheus metrics listen address (overrides config)")
	resolveName    = flag.String("resolve", "", "If set, resolve this name once via A lookup and print the result, then exit")
	stats          = flag.Bool("stats", true, "Print resolver statistics periodically")
)

func main() {
	flag.Parse()

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║              evreq - Asynchronous DNS Resolver                ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	procCfg := srvconfig.Default()
	if *srvConfigPath != "" {
		c, err := srvconfig.Load(*srvConfigPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		procCfg = c
	}
	if *serverListen != "" {
		procCfg.Server.Listen = *serverListen
	}
	if *metricsListen != "" {
		procCfg.Metrics.Listen = *metricsListen
	}

	fmt.Printf("Configuration:\n")
	fmt.Printf("  Max inflight:     %d\n", procCfg.Queue.MaxInflight)
	fmt.Printf("  Request timeout:  %s\n", procCfg.RequestTimeout())
	fmt.Printf("  Max reissues:     %d\n", procCfg.Queue.MaxReissues)
	fmt.Printf("  Max retransmits:  %d\n", procCfg.Queue.MaxRetransmits)
	fmt.Printf("  Probe name:       %s\n", procCfg.Probe.Name)
	fmt.Printf("  Server address:   %s\n", orNone(procCfg.Server.Listen))
	fmt.Printf("  Metrics address:  %s\n", orNone(procCfg.Metrics.Listen))
	fmt.Println()

	collector := metrics.New()
	if err := collector.Register(prometheus.DefaultRegisterer); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering metrics: %v\n", err)
		os.Exit(1)
	}
	if procCfg.Metrics.Listen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			fmt.Printf("metrics listening on %s\n", procCfg.Metrics.Listen)
			if err := http.ListenAndServe(procCfg.Metrics.Listen, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
	}

	poller := reactor.NewPoller()
	defer poller.Close()

	res, err := resolver.New(resolver.Config{
		Reactor:              poller,
		MaxInflight:          procCfg.Queue.MaxInflight,
		RequestTimeout:       procCfg.RequestTimeout(),
		MaxReissues:          procCfg.Queue.MaxReissues,
		MaxRetransmits:       procCfg.Queue.MaxRetransmits,
		MaxNameserverTimeout: procCfg.Queue.MaxNameserverTimeout,
		ProbeName:            procCfg.Probe.Name,
		LogFn:                logf,
		Metrics:              collector,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error constructing resolver: %v\n", err)
		os.Exit(1)
	}

	if *resolvConfPath != "" {
		if err := res.ResolvConfParse(resolver.ParseOptionDefaults, *resolvConfPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (continuing with whatever nameservers were configured before the error)\n", err)
		}
	}

	fmt.Printf("Nameservers configured: %d (%d up)\n", res.CountNameservers(), res.GoodNameserverCount())
	fmt.Println()

	var port *respond.ServerPort
	if procCfg.Server.Listen != "" {
		udpAddr, err := net.ResolveUDPAddr("udp", procCfg.Server.Listen)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving server listen address: %v\n", err)
			os.Exit(1)
		}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error binding server port: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()

		port, err = res.AddServerPort(conn, answerServerQuery, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error starting server port: %v\n", err)
			os.Exit(1)
		}
		defer port.Close()
		fmt.Printf("Server port listening on %s\n", conn.LocalAddr())
	}

	if *resolveName != "" {
		done := make(chan struct{})
		err := res.ResolveIPv4(*resolveName, 0, func(code rescode.Code, reply *wire.Reply, _ any) {
			printResolveResult(*resolveName, code, reply)
			close(done)
		}, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error submitting resolve: %v\n", err)
			os.Exit(1)
		}
		<-done
		return
	}

	fmt.Println("evreq resolver started successfully!")
	fmt.Println()

	if *stats {
		go printStats(res)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println()

	res.Shutdown(true)
}

func logf(warn bool, msg string) {
	if warn {
		fmt.Fprintf(os.Stderr, "[warn] %s\n", msg)
		return
	}
	fmt.Printf("[info] %s\n", msg)
}

// answerServerQuery is a placeholder server-side callback: this binary
// has no zone data of its own, so every query gets an empty NOERROR
// reply. A real authoritative deployment would call req.AddA/AddPTR from
// a zone store before req.Respond.
func answerServerQuery(req *respond.ServerRequest) {
	if err := req.Respond(0); err != nil {
		logf(true, "respond: "+err.Error())
	}
}

func orNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

func printStats(res *resolver.Resolver) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		st := res.Stats()
		fmt.Printf("═══════════════════════════════════════════════════════════\n")
		fmt.Printf("Statistics:\n")
		fmt.Printf("  Nameservers up:    %6d\n", st.NameserversUp)
		fmt.Printf("  Nameservers down:  %6d\n", st.NameserversDown)
		fmt.Printf("  Requests inflight: %6d\n", st.Inflight)
		fmt.Printf("  Requests waiting:  %6d\n", st.Waiting)
		fmt.Printf("═══════════════════════════════════════════════════════════\n\n")
	}
}

func printResolveResult(name string, code rescode.Code, reply *wire.Reply) {
	if code != rescode.None {
		fmt.Printf("%s: %s\n", name, code)
		return
	}
	if reply == nil || reply.Kind != wire.ReplyA {
		fmt.Printf("%s: no address record\n", name)
		return
	}
	for _, addr := range reply.Addrs {
		fmt.Printf("%s: %d.%d.%d.%d (ttl %ds)\n", name, addr[0], addr[1], addr[2], addr[3], reply.TTL)
	}
}
