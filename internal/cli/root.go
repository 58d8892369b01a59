// Package cli implements the scopemem command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	scopemem "github.com/oceanbase/scopemem-go/pkg/core"
)

// app carries the persistent flags shared by every command.
type app struct {
	envFile    string
	dbPath     string
	policyPath string
	verbose    bool
}

// NewRootCmd builds the scopemem command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "scopemem",
		Short:         "Hierarchical memory for agents and teams",
		Long:          "Ingest memories scoped to organizations, groups, spaces and areas, assemble budgeted context, and review sharing proposals.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.envFile, "env", "", "Env file to load (default: nearest .env)")
	root.PersistentFlags().StringVarP(&a.dbPath, "db", "d", "", "SQLite database path, overrides DATABASE_PROVIDER")
	root.PersistentFlags().StringVar(&a.policyPath, "policy", "", "JSON access policy, overrides SCOPEMEM_ACCESS_POLICY")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log engine activity to stderr")

	root.AddCommand(
		a.ingestCmd(),
		a.assembleCmd(),
		a.getCmd(),
		a.proposeCmd(),
		a.reviewCmd(),
		a.reviewMemoryCmd(),
		a.withdrawCmd(),
		a.unshareCmd(),
		a.proposalsCmd(),
		a.decayCmd(),
		a.promoteCmd(),
		a.resolveCmd(),
		a.reembedCmd(),
		a.auditCmd(),
	)
	return root
}

func (a *app) config() (*scopemem.Config, error) {
	var (
		cfg *scopemem.Config
		err error
	)
	if a.envFile != "" {
		cfg, err = scopemem.LoadConfigFromEnvFile(a.envFile)
	} else {
		cfg, err = scopemem.LoadConfigFromEnv()
	}
	if err != nil {
		return nil, err
	}
	if a.dbPath != "" {
		cfg.Store = scopemem.StoreConfig{Provider: "sqlite", SQLitePath: a.dbPath}
	}
	if a.policyPath != "" {
		if cfg.Engine == nil {
			cfg.Engine = scopemem.DefaultEngineConfig()
		}
		cfg.Engine.AccessPolicyPath = a.policyPath
	}
	return cfg, nil
}

// open creates a client for one command. The caller closes it.
func (a *app) open(cmd *cobra.Command) (*scopemem.Client, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	logger := log.New(io.Discard, "", 0)
	if a.verbose {
		logger = log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	}
	return scopemem.NewClient(cmd.Context(), cfg, scopemem.WithLogger(logger))
}

// withClient runs fn with an open client and closes it afterwards.
func (a *app) withClient(cmd *cobra.Command, fn func(*scopemem.Client) error) (err error) {
	client, err := a.open(cmd)
	if err != nil {
		return fmt.Errorf("open client: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(client)
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

// addCallerFlags registers the flags describing who is asking.
func addCallerFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("user", "u", "", "Caller user ID (required)")
	cmd.Flags().String("org", "", "Caller organization ID")
	cmd.Flags().StringSlice("groups", nil, "Caller group IDs")
	cmd.Flags().String("space", "", "Caller space ID")
	cmd.Flags().String("area", "", "Caller area ID")
	cmd.Flags().String("task", "", "Caller task ID")
	_ = cmd.MarkFlagRequired("user")
}

func callerFromFlags(cmd *cobra.Command) *scopemem.CallerContext {
	user, _ := cmd.Flags().GetString("user")
	org, _ := cmd.Flags().GetString("org")
	groups, _ := cmd.Flags().GetStringSlice("groups")
	space, _ := cmd.Flags().GetString("space")
	area, _ := cmd.Flags().GetString("area")
	task, _ := cmd.Flags().GetString("task")
	return &scopemem.CallerContext{
		UserID:         user,
		OrganizationID: org,
		GroupIDs:       groups,
		SpaceID:        space,
		AreaID:         area,
		TaskID:         task,
	}
}

// parseTime accepts RFC 3339 timestamps and plain dates. Empty yields the
// zero time.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}
