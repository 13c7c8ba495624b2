// Package config parses the flat key=value cluster description file.
// Peer entries are node0ip/node0port, node1ip/node1port, … — the list
// ends at the first absent nodeNip.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Config is the parsed file.
type Config struct {
	values map[string]string
	peers  []string // "ip:port" per node index
}

// Load reads and parses path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	c := &Config{values: make(map[string]string)}

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		k, v, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("config line %d: missing '=': %q", line, text)
		}
		c.values[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	for i := 0; ; i++ {
		ip, ok := c.values[fmt.Sprintf("node%dip", i)]
		if !ok {
			break
		}
		port, ok := c.values[fmt.Sprintf("node%dport", i)]
		if !ok {
			return nil, fmt.Errorf("config: node%dip present but node%dport missing", i, i)
		}
		c.peers = append(c.peers, ip+":"+port)
	}
	if len(c.peers) == 0 {
		return nil, fmt.Errorf("config: no node entries found")
	}
	return c, nil
}

// Get returns the raw value for key, empty when absent.
func (c *Config) Get(key string) string {
	return c.values[key]
}

// Peers returns the cluster addresses in node-index order.
func (c *Config) Peers() []string {
	out := make([]string, len(c.peers))
	copy(out, c.peers)
	return out
}

// NodeID names the node at index i.
func NodeID(i int) string {
	return fmt.Sprintf("node%d", i)
}

// PeerMap returns node id -> address for all nodes.
func (c *Config) PeerMap() map[string]string {
	m := make(map[string]string, len(c.peers))
	for i, addr := range c.peers {
		m[NodeID(i)] = addr
	}
	return m
}
