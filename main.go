// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/petervdpas/lsnp/internal/app"
	"github.com/petervdpas/lsnp/internal/config"
	"github.com/petervdpas/lsnp/internal/proto"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	cfgPath  = flag.String("config", "lsnp.json", "Path to the config file")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("lsnp v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()

	// No arguments - run the peer.
	if len(args) == 0 {
		runPeer(*cfgPath)
		return
	}

	switch args[0] {
	case "peer":
		runPeer(*cfgPath)

	case "craft":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: craft requires a message type")
			fmt.Fprintln(os.Stderr, "Usage: lsnp craft <TYPE> [KEY=VALUE ...] [send=ip:port]")
			os.Exit(1)
		}
		runCraft(args[1], args[2:])

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", args[0])
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func runPeer(path string) {
	cfg, created, err := config.Ensure(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		fmt.Printf("Created default config at %s\n", path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{
		CfgPath: path,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("Peer failed: %v", err)
	}
}

// runCraft builds one frame from KEY=VALUE pairs, prints it, and when a
// send=ip:port pair is present also transmits it. Handy for poking other
// peers and for protocol-compliance testing.
func runCraft(msgType string, pairs []string) {
	m := proto.New(strings.ToUpper(msgType))
	sendTo := ""
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: %q is not KEY=VALUE\n", pair)
			os.Exit(1)
		}
		if key == "send" {
			sendTo = value
			continue
		}
		m.Set(strings.ToUpper(key), value)
	}

	frame := m.Craft()
	os.Stdout.Write(frame)

	if sendTo == "" {
		return
	}
	conn, err := net.Dial("udp4", sendTo)
	if err != nil {
		log.Fatalf("Dial %s: %v", sendTo, err)
	}
	defer conn.Close()
	if _, err := conn.Write(frame); err != nil {
		log.Fatalf("Send failed: %v", err)
	}
	fmt.Fprintf(os.Stderr, "sent %d bytes to %s\n", len(frame), sendTo)
}

func showUsage() {
	fmt.Println("lsnp - Local Social Networking Protocol peer")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  lsnp [-config lsnp.json]          Run the peer (default)")
	fmt.Println("  lsnp craft <TYPE> [KEY=VALUE ...] [send=ip:port]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  peer")
	fmt.Println("        Run the interactive peer (same as no command)")
	fmt.Println()
	fmt.Println("  craft <TYPE> [KEY=VALUE ...] [send=ip:port]")
	fmt.Println("        Build a single frame, print it, and optionally send it")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println("  -config   Config file path (default lsnp.json)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Run a peer")
	fmt.Println("  lsnp")
	fmt.Println()
	fmt.Println("  # Craft a PING and send it")
	fmt.Println("  lsnp craft PING USER_ID=alice@10.0.0.1 send=10.0.0.255:50999")
}
