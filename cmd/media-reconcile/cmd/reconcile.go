package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-media-reconcile/index"
	"go-media-reconcile/internal/config"
	"go-media-reconcile/internal/decisions"
	"go-media-reconcile/internal/downloader"
	"go-media-reconcile/internal/manifest"
	"go-media-reconcile/internal/models"
	"go-media-reconcile/internal/reconcile"
	"go-media-reconcile/internal/resolver"
)

const lockFileName = ".lock"

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <manifest.json>",
	Short: "Import the assets of a manifest and rewrite content references",
	Long: `Reads an exported manifest, maps every asset to a local record (reusing,
copying from the bundle next to the manifest, or fetching from its source)
and rewrites metadata and body references in the content store.

Running the same manifest twice is safe: the second run downloads nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringP("mode", "m", "", "Transport mode: auto, bundled or remote (default: manifest hint, then config)")
	reconcileCmd.Flags().StringP("scope", "s", "", "Run scope id used to look up run decisions (default: manifest file name)")
	reconcileCmd.Flags().String("public-url", "", "Canonical origin of the local store (overrides config)")
	reconcileCmd.Flags().String("mirror-url", "", "Trusted mirror origin (overrides config)")
	reconcileCmd.Flags().Bool("allow-external", false, "Allow fetching from any http(s) host (overrides config)")
	reconcileCmd.Flags().StringP("decisions", "d", "", "Decision file, YAML or JSON (overrides config)")
	reconcileCmd.Flags().String("storage-root", "", "Directory bundled files are resolved against (default: next to the manifest)")
	reconcileCmd.Flags().Bool("resolver", true, "Match assets against existing records before transport")
	reconcileCmd.Flags().Bool("json", false, "Print the full run report as JSON")
	reconcileCmd.Flags().Bool("fail-on-error", false, "Exit non-zero when any asset failed")

	viper.BindPFlag("reconcile.mode", reconcileCmd.Flags().Lookup("mode"))
	viper.BindPFlag("reconcile.scope", reconcileCmd.Flags().Lookup("scope"))
	viper.BindPFlag("reconcile.public_url", reconcileCmd.Flags().Lookup("public-url"))
	viper.BindPFlag("reconcile.mirror_url", reconcileCmd.Flags().Lookup("mirror-url"))
	viper.BindPFlag("reconcile.allow_external", reconcileCmd.Flags().Lookup("allow-external"))
	viper.BindPFlag("reconcile.decisions", reconcileCmd.Flags().Lookup("decisions"))
	viper.BindPFlag("reconcile.storage_root", reconcileCmd.Flags().Lookup("storage-root"))
	viper.BindPFlag("reconcile.resolver", reconcileCmd.Flags().Lookup("resolver"))
	viper.BindPFlag("reconcile.json", reconcileCmd.Flags().Lookup("json"))
	viper.BindPFlag("reconcile.fail_on_error", reconcileCmd.Flags().Lookup("fail-on-error"))
}

// applyReconcileFlags folds the command's flags into the loaded config.
func applyReconcileFlags(cmd *cobra.Command, cfg *models.Config) error {
	if mode := viper.GetString("reconcile.mode"); mode != "" {
		cfg.TransportMode = strings.ToLower(strings.TrimSpace(mode))
	}
	if u := viper.GetString("reconcile.public_url"); u != "" {
		cfg.PublicBaseURL = strings.TrimRight(u, "/")
	}
	if u := viper.GetString("reconcile.mirror_url"); u != "" {
		cfg.MirrorBaseURL = strings.TrimRight(u, "/")
	}
	if cmd.Flags().Changed("allow-external") {
		cfg.AllowExternal = viper.GetBool("reconcile.allow_external")
	}
	if p := viper.GetString("reconcile.decisions"); p != "" {
		cfg.DecisionsPath = p
	}
	return config.Validate(*cfg)
}

// defaultScope derives a run scope id from the manifest file name.
func defaultScope(manifestPath string) string {
	base := filepath.Base(manifestPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	if err := applyReconcileFlags(cmd, &cfg); err != nil {
		return err
	}
	manifestPath := args[0]

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}

	scope := viper.GetString("reconcile.scope")
	if scope == "" {
		scope = defaultScope(manifestPath)
	}

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	lock := flock.New(filepath.Join(cfg.LibraryPath, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire library lock: %w", err)
	}
	if !locked {
		return errors.New("another run is already using this library")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.WithError(err).Warn("Failed to release library lock")
		}
	}()

	dec := decisions.Empty()
	if cfg.DecisionsPath != "" {
		if dec, err = decisions.Load(cfg.DecisionsPath); err != nil {
			return err
		}
	}

	var res resolver.Resolver = resolver.Nop{}
	if viper.GetBool("reconcile.resolver") {
		idx, err := index.OpenOrCreateIndex(cfg.IndexPath)
		if err != nil {
			log.WithError(err).Warnf("Could not open asset index at %s, continuing without resolver", cfg.IndexPath)
		} else {
			defer idx.Close()
			ir := resolver.NewIndexResolver(idx, st.library)
			if err := ir.Sync(); err != nil {
				log.WithError(err).Warn("Could not sync asset index, continuing without resolver")
			} else {
				res = ir
			}
		}
	}

	client := &http.Client{
		Transport: globalHttpTransport,
		Timeout:   time.Duration(cfg.FetchTimeoutSec) * time.Second,
	}

	writer := uilive.New()
	writer.Out = os.Stderr
	writer.Start()

	mode := ""
	if cmd.Flags().Changed("mode") || m.Bundle.Mode == "" {
		mode = cfg.TransportMode
	}
	engine := reconcile.New(reconcile.Deps{
		Library:    st.library,
		Content:    st.content,
		Identities: st.identities,
		Decisions:  dec,
		Resolver:   res,
		Fetcher:    downloader.NewDownloader(client, cfg.UserAgent),
	}, reconcile.Options{
		Mode:          mode,
		PublicBaseURL: cfg.PublicBaseURL,
		MirrorBaseURL: cfg.MirrorBaseURL,
		AllowExternal: cfg.AllowExternal,
		RunScopeID:    scope,
		StorageRoot:   viper.GetString("reconcile.storage_root"),
		Progress: func(stage string, done, total int) {
			fmt.Fprintf(writer, "%-8s %d/%d\n", stage, done, total)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	report, err := engine.Run(ctx, m)
	writer.Stop()
	if err != nil {
		return err
	}

	if viper.GetBool("reconcile.json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if report.Stats.Errors > 0 {
		log.Warnf("%d asset(s) or reference(s) failed. Check the log for details.", report.Stats.Errors)
		if viper.GetBool("reconcile.fail_on_error") {
			return fmt.Errorf("%d error(s) during reconciliation", report.Stats.Errors)
		}
	}
	return nil
}

func printReport(r *reconcile.Report) {
	s := r.Stats
	rows := [][]string{
		{"Mode", r.Mode},
		{"Run scope", r.RunScopeID},
		{"Detected", strconv.Itoa(r.Collect.Detected)},
		{"Downloaded", strconv.Itoa(s.Downloaded)},
		{"Reused", strconv.Itoa(s.Reused)},
		{"Blocked", strconv.Itoa(s.Blocked)},
		{"Malformed", strconv.Itoa(r.Collect.Malformed)},
		{"Unusable", strconv.Itoa(r.Collect.Unusable)},
		{"Updated items", strconv.Itoa(s.UpdatedPosts)},
		{"Meta updates", strconv.Itoa(s.MetaUpdates)},
		{"Body updates", strconv.Itoa(s.ContentUpdates)},
		{"Errors", strconv.Itoa(s.Errors)},
		{"Transport ran", strconv.FormatBool(r.LegacySync)},
	}
	fmt.Println(renderTable([]string{"Reconciliation", "Value"}, rows, 1))

	if len(r.Blocked) > 0 {
		var brows [][]string
		for _, b := range r.Blocked {
			brows = append(brows, []string{strconv.FormatInt(b.OriginalID, 10), b.Reason, b.URL})
		}
		fmt.Println(renderTable([]string{"Blocked", "Reason", "URL"}, brows, 0))
	}

	if len(r.Conflicts) > 0 {
		var crows [][]string
		for _, c := range r.Conflicts {
			cands := make([]string, len(c.Candidates))
			for i, id := range c.Candidates {
				cands[i] = strconv.FormatInt(id, 10)
			}
			crows = append(crows, []string{strconv.FormatInt(c.OriginalID, 10), c.Reason, strings.Join(cands, ", ")})
		}
		fmt.Println(renderTable([]string{"Conflict", "Reason", "Candidates"}, crows, 0))
	}

	var failed [][]string
	for _, e := range r.Collect.Queue {
		if e.Outcome == reconcile.OutcomeError {
			failed = append(failed, []string{strconv.FormatInt(e.OriginalID, 10), e.Error})
		}
	}
	if len(failed) > 0 {
		fmt.Println(renderTable([]string{"Failed", "Error"}, failed, 0))
	}
}
