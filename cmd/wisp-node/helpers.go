package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"strconv"
	"strings"

	"wisp/internal/didkey"
	"wisp/internal/overlay"
)

const (
	ansiReset = "\033[0m"
	ansiDim   = "\033[2m"
	ansiRed   = "\033[31m"
	ansiGreen = "\033[32m"
)

// consoleSink prints overlay events as they happen.
type consoleSink struct{}

func (consoleSink) OnEvent(ev overlay.Event) {
	color := ansiDim
	if ev.Err != "" {
		color = ansiRed
	} else if ev.Type == overlay.EventPeerIdentified {
		color = ansiGreen
	}
	var parts []string
	if ev.Peer != "" {
		parts = append(parts, "peer="+shortID(ev.Peer))
	}
	if ev.Topic != "" {
		parts = append(parts, "topic="+shortTopic(ev.Topic))
	}
	if ev.Addr != "" {
		parts = append(parts, "addr="+ev.Addr)
	}
	if ev.Err != "" {
		parts = append(parts, "err="+ev.Err)
	}
	fmt.Printf("%s[%s] %s%s\n", color, ev.Type, strings.Join(parts, " "), ansiReset)
}

// loadOrCreateDID reads an ed25519 seed from path, generating and saving one
// on first run so the node keeps its identity across restarts.
func loadOrCreateDID(path string) (didkey.DID, error) {
	if seed, err := os.ReadFile(path); err == nil {
		return didkey.FromSeed(seed)
	}
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return didkey.DID{}, err
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return didkey.DID{}, err
	}
	return didkey.FromSeed(seed)
}

// splitArg splits "first rest of line" into its head and tail.
func splitArg(s string) (string, string, bool) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return "", "", false
	}
	return s[:i], strings.TrimSpace(s[i+1:]), true
}

func parseCount(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16] + "…"
	}
	return id
}

func shortTopic(topic string) string {
	if len(topic) > 12 {
		return topic[:12] + "…"
	}
	return topic
}
