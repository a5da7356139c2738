package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"

	"wisp/internal/didkey"
	"wisp/internal/identity"
	"wisp/internal/overlay"
	"wisp/internal/paths"
	"wisp/internal/storage/cachebolt"
)

func main() {
	listen := flag.String("listen", "/ip4/0.0.0.0/tcp/0", "listen multiaddr")
	peerStr := flag.String("peer", "", "comma-separated multiaddrs of known peers")
	dataDir := flag.String("data", "", "data directory (default: per-user config dir)")
	allowStr := flag.String("allow", "", "comma-separated DIDs to admit (default: admit everyone)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		logging.SetAllLoggers(logging.LevelDebug)
	}

	dir, err := paths.DataDir(*dataDir)
	if err != nil {
		log.Fatalf("data dir: %v", err)
	}

	did, err := loadOrCreateDID(filepath.Join(dir, "identity.seed"))
	if err != nil {
		log.Fatalf("identity: %v", err)
	}

	cache, err := cachebolt.Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		log.Fatalf("open cache: %v", err)
	}
	defer cache.Close()

	var roster overlay.IdentityDirectory
	if *allowStr == "" {
		roster = identity.AllowAll()
	} else {
		reg := identity.NewRegistry()
		for _, d := range strings.Split(*allowStr, ",") {
			d = strings.TrimSpace(d)
			if d != "" {
				reg.Add(overlay.Identity{DID: d})
			}
		}
		roster = reg
	}

	known, err := parseKnownPeers(*peerStr)
	if err != nil {
		log.Fatalf("parse -peer: %v", err)
	}

	svc, err := overlay.New(overlay.Config{
		DID:        did,
		ListenAddr: *listen,
		KnownPeers: known,
		Cache:      cache,
		Identities: roster,
		Sink:       consoleSink{},
	})
	if err != nil {
		log.Fatalf("start overlay: %v", err)
	}
	defer svc.Close()

	fmt.Printf("Node started.\n")
	fmt.Printf("DID:  %s\n", svc.DID())
	fmt.Printf("Peer: %s\n", svc.PeerID())
	for _, a := range svc.ListenAddrs() {
		fmt.Printf("Addr: %s\n", a)
	}
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("	/pair <multiaddr|peer-id>	- dial and validate a peer")
	fmt.Println("	/sub <topic>			- join a named topic")
	fmt.Println("	/pub <topic> <message>	- publish to a named topic")
	fmt.Println("	/send <did> <message>		- message a validated peer")
	fmt.Println("	/recent [n]			- show recently cached payloads")
	fmt.Println("	/me				- show own DID and addresses")
	fmt.Println("	/quit				- exit")
	fmt.Println()

	ctx := context.Background()

	// Reader for stdin.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			switch {

			case strings.HasPrefix(line, "/quit"):
				fmt.Println("quitting...")
				svc.Close()
				os.Exit(0)

			case strings.HasPrefix(line, "/pair "):
				target := strings.TrimSpace(strings.TrimPrefix(line, "/pair"))
				if err := svc.Pair(ctx, target); err != nil {
					fmt.Printf("pair: %v\n", err)
				}

			case strings.HasPrefix(line, "/sub "):
				topic := strings.TrimSpace(strings.TrimPrefix(line, "/sub"))
				if err := svc.Subscribe(ctx, topic); err != nil {
					fmt.Printf("sub: %v\n", err)
				}

			case strings.HasPrefix(line, "/pub "):
				topic, msg, ok := splitArg(strings.TrimPrefix(line, "/pub "))
				if !ok {
					fmt.Println("usage: /pub <topic> <message>")
					continue
				}
				if err := svc.Publish(ctx, topic, []byte(msg)); err != nil {
					fmt.Printf("pub: %v\n", err)
				}

			case strings.HasPrefix(line, "/send "):
				didStr, msg, ok := splitArg(strings.TrimPrefix(line, "/send "))
				if !ok {
					fmt.Println("usage: /send <did> <message>")
					continue
				}
				to, err := didkey.Parse(didStr)
				if err != nil {
					fmt.Printf("bad did: %v\n", err)
					continue
				}
				if err := svc.Send(ctx, []byte(msg), []didkey.DID{to}); err != nil {
					fmt.Printf("send: %v\n", err)
				}

			case strings.HasPrefix(line, "/recent"):
				n := parseCount(strings.TrimSpace(strings.TrimPrefix(line, "/recent")), 10)
				payloads, err := cache.Recent(overlay.CategoryMessaging, n)
				if err != nil {
					fmt.Printf("recent: %v\n", err)
					continue
				}
				for i, p := range payloads {
					fmt.Printf("%2d. %s\n", i+1, string(p))
				}

			case line == "/me":
				fmt.Printf("DID:  %s\n", svc.DID())
				for _, a := range svc.ListenAddrs() {
					fmt.Printf("Addr: %s\n", a)
				}

			default:
				fmt.Println("unknown command")
			}
		}
	}()

	// Delivery loop.
	for msg := range svc.Messages() {
		fmt.Printf("[MSG] %s%s%s %s\n", ansiDim, shortTopic(msg.Topic), ansiReset, string(msg.Payload))
	}
}

func parseKnownPeers(s string) ([]peer.AddrInfo, error) {
	var out []peer.AddrInfo
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		info, err := peer.AddrInfoFromString(part)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		out = append(out, *info)
	}
	return out, nil
}
