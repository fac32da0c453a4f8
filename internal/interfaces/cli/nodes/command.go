// Package nodes inspects and prunes the persisted node store offline.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/orris-inc/sidecar/internal/application/registry"
	"github.com/orris-inc/sidecar/internal/domain/packet"
	"github.com/orris-inc/sidecar/internal/infrastructure/store"
	"github.com/orris-inc/sidecar/internal/interfaces/cli/bootstrap"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

var (
	env        string
	configPath string
	format     string
	timeout    time.Duration
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Inspect the persisted node store",
		Long:  `List or forget the remote nodes the sidecar has persisted, without starting it.`,
	}

	cmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Environment (development, test, production)")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./configs/config.yaml)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Store operation timeout")

	cmd.AddCommand(newListCommand(), newForgetCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st registry.Store, _ logger.Interface) error {
				rows, err := Collect(ctx, st)
				if err != nil {
					return err
				}
				return Render(cmd.OutOrStdout(), format, rows)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", FormatTable, "Output format (table, json, yaml)")
	return cmd
}

func newForgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <node-id>",
		Short: "Remove a node from the store",
		Long:  `Remove a node from the store. A running sidecar keeps the node in memory until it is restarted or forgets it over the HTTP API.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st registry.Store, log logger.Interface) error {
				if err := Forget(ctx, st, args[0]); err != nil {
					return err
				}
				log.Infow("node forgotten", "node_id", args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "Node %s removed\n", args[0])
				return nil
			})
		},
	}
}

func withStore(parent context.Context, fn func(ctx context.Context, st registry.Store, log logger.Interface) error) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, log, err := bootstrap.Init(env, configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	st, err := store.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open node store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warnw("failed to close node store", "error", err)
		}
	}()

	return fn(ctx, st, log)
}

// Row is the printable view of one persisted node.
type Row struct {
	ID         string   `json:"id" yaml:"id"`
	InstanceID string   `json:"instanceID,omitempty" yaml:"instanceID,omitempty"`
	Hostname   string   `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Client     string   `json:"client,omitempty" yaml:"client,omitempty"`
	Seq        int64    `json:"seq" yaml:"seq"`
	Gateway    string   `json:"gateway,omitempty" yaml:"gateway,omitempty"`
	Services   []string `json:"services" yaml:"services"`
}

// Collect reads every stored node, sorted by ID.
func Collect(ctx context.Context, st registry.Store) ([]Row, error) {
	var rows []Row
	err := st.Iterate(ctx, func(nodeID string, info *packet.InfoPayload) error {
		rows = append(rows, toRow(nodeID, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read node store: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

// Forget deletes nodeID, failing when it is not stored.
func Forget(ctx context.Context, st registry.Store, nodeID string) error {
	if _, err := st.Get(ctx, nodeID); err != nil {
		return fmt.Errorf("node %s: %w", nodeID, err)
	}
	if err := st.Delete(ctx, nodeID); err != nil {
		return fmt.Errorf("failed to delete node %s: %w", nodeID, err)
	}
	return nil
}

func toRow(nodeID string, info *packet.InfoPayload) Row {
	row := Row{
		ID:         nodeID,
		InstanceID: info.InstanceID,
		Hostname:   info.Hostname,
		Seq:        info.Seq,
		Services:   make([]string, 0, len(info.Services)),
	}
	if info.Client.Type != "" {
		row.Client = strings.TrimSpace(info.Client.Type + " " + info.Client.Version)
	}
	if gw := info.Gateway; gw != nil {
		scheme := "http"
		if gw.UseSSL {
			scheme = "https"
		}
		row.Gateway = scheme + "://" + gw.Endpoint
		if gw.Port > 0 {
			row.Gateway += fmt.Sprintf(":%d", gw.Port)
		}
		row.Gateway += gw.Path
	}
	for _, svc := range info.Services {
		name := svc.FullName
		if name == "" {
			name = svc.Name
		}
		row.Services = append(row.Services, name)
	}
	sort.Strings(row.Services)
	return row
}

// Render writes rows in the given format.
func Render(w io.Writer, format string, rows []Row) error {
	if rows == nil {
		rows = []Row{}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable, "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tHOSTNAME\tCLIENT\tSEQ\tGATEWAY\tSERVICES")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				r.ID, dash(r.Hostname), dash(r.Client), r.Seq, dash(r.Gateway), dash(strings.Join(r.Services, ",")))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
