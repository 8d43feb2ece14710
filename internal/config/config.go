// Package config loads tinypoold's layered configuration (flags > env
// TINYPOOL_* > flag defaults) via spf13/viper, the pattern shown by
// teradata-labs/loom's command surface, replacing the teacher's raw
// os.Args positional parsing.
package config

import (
	"fmt"
	"strings"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tinypool-io/tinypool/common"
)

// Config is the fully-resolved worker configuration (§6 Environment/config
// options, plus process wiring the distilled spec leaves to the caller).
type Config struct {
	WorkerID   int
	ListenAddr string
	Peers      []common.PeerInfo
	BaseDir    string
	LogFile    string

	EnableWhoHasRead      bool
	EnableRandomFrefServe bool
	MaxMemSize            int64 // bytes; 0 disables active eviction
	SpillToDisk           bool
}

// BindFlags registers the command-line flags tinypoold accepts and binds
// each one into v, so flags take precedence over env, and env over the flag
// defaults (cobra/viper's standard layering). No config file is read.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()
	flags.Int("id", 0, "this worker's id")
	flags.String("listen", "127.0.0.1:9000", "address this worker's RPC server listens on")
	flags.StringSlice("peer", nil, "id=endpoint pair for a cluster peer; repeatable")
	flags.String("base-dir", ".", "base directory for this worker's spill session directory")
	flags.String("log-file", "", "optional log file path (JSON); defaults to stderr")
	flags.Bool("who-has-read", true, "maintain the coordinator's who_has_read debug registry")
	flags.Bool("random-fref-serve", true, "allow any co-located peer to serve an FRef fetch, not just the lowest worker id")
	flags.String("max-memsize", "0", "advisory in-memory cap (e.g. 512MB, 2GiB); 0 disables active eviction")
	flags.Bool("spill-to-disk", false, "under memory pressure, spill evicted destroy_on_evict refs to disk instead of destroying them; refs without destroy_on_evict are never evicted or spilled")

	v.SetEnvPrefix("TINYPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)
}

// Load resolves a Config from v after flags have been parsed.
func Load(v *viper.Viper) (*Config, error) {
	maxMem, err := units.RAMInBytes(v.GetString("max-memsize"))
	if err != nil {
		return nil, fmt.Errorf("parsing max-memsize: %w", err)
	}

	peers, err := parsePeers(v.GetStringSlice("peer"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		WorkerID:              v.GetInt("id"),
		ListenAddr:            v.GetString("listen"),
		Peers:                 peers,
		BaseDir:               v.GetString("base-dir"),
		LogFile:               v.GetString("log-file"),
		EnableWhoHasRead:      v.GetBool("who-has-read"),
		EnableRandomFrefServe: v.GetBool("random-fref-serve"),
		MaxMemSize:            maxMem,
		SpillToDisk:           v.GetBool("spill-to-disk"),
	}

	if cfg.WorkerID <= 0 {
		return nil, fmt.Errorf("--id must be a positive worker id")
	}
	if !common.IsValidEndpoint(cfg.ListenAddr) {
		return nil, fmt.Errorf("--listen %q is not a valid host:port endpoint", cfg.ListenAddr)
	}
	return cfg, nil
}

func parsePeers(raw []string) ([]common.PeerInfo, error) {
	peers := make([]common.PeerInfo, 0, len(raw))
	for _, entry := range raw {
		idStr, endpoint, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --peer %q, expected id=host:port", entry)
		}
		var id int
		if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
			return nil, fmt.Errorf("invalid --peer %q: %w", entry, err)
		}
		if !common.IsValidEndpoint(endpoint) {
			return nil, fmt.Errorf("invalid --peer %q: %q is not host:port", entry, endpoint)
		}
		peers = append(peers, common.PeerInfo{ID: id, Endpoint: endpoint})
	}
	return peers, nil
}
