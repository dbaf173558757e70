package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go-media-reconcile/index"
	"go-media-reconcile/internal/helpers"
	"go-media-reconcile/internal/library"
	"go-media-reconcile/internal/resolver"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// dbCmd represents the base command for library database operations
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the library database",
	Long:  `List, inspect, verify or forget the local asset records kept in the library database.`,
}

var dbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local asset records",
	Run:   runDbList,
}

var dbShowCmd = &cobra.Command{
	Use:   "show [ASSET_ID]",
	Short: "Show one asset record as JSON",
	Args:  cobra.ExactArgs(1),
	Run:   runDbShow,
}

var dbForgetCmd = &cobra.Command{
	Use:   "forget [ASSET_ID]",
	Short: "Remove an asset record, its original-id marker and its file",
	Long: `Removes the record and file of one local asset. Identity mappings pointing at it
are dropped automatically on the next reconcile run.`,
	Args: cobra.ExactArgs(1),
	Run:  runDbForget,
}

var dbVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify stored files against their recorded hashes",
	Long:  `Checks that every recorded file exists in the library and, unless disabled, re-hashes it.`,
	Run:   runDbVerify,
}

var dbMapCmd = &cobra.Command{
	Use:   "map",
	Short: "List the persisted identity map (original id -> local id)",
	Run:   runDbMap,
}

var dbReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the asset index from the database",
	Run:   runDbReindex,
}

var dbSearchCmd = &cobra.Command{
	Use:   "search [QUERY]",
	Short: "Search the asset index",
	Long: `Runs a query string search against the asset index used by the resolver.
The index is refreshed from the database first.`,
	Args: cobra.ExactArgs(1),
	Run:  runDbSearch,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbListCmd)
	dbCmd.AddCommand(dbShowCmd)
	dbCmd.AddCommand(dbForgetCmd)
	dbCmd.AddCommand(dbVerifyCmd)
	dbCmd.AddCommand(dbSearchCmd)
	dbCmd.AddCommand(dbReindexCmd)
	dbCmd.AddCommand(dbMapCmd)

	dbVerifyCmd.Flags().Bool("check-hash", true, "Re-hash files that exist")
	dbSearchCmd.Flags().Int("limit", 10, "Maximum number of hits to show (at most 10)")
}

func parseAssetID(arg string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		log.Fatalf("Invalid asset id %q", arg)
	}
	return id
}

func mustOpenStores() *stores {
	st, err := openStores(globalConfig)
	if err != nil {
		log.WithError(err).Fatalf("Failed to open library database at %s", globalConfig.DatabasePath)
	}
	return st
}

func runDbList(cmd *cobra.Command, args []string) {
	st := mustOpenStores()
	defer st.Close()

	records, err := st.library.List()
	if err != nil {
		log.WithError(err).Fatal("Failed to list records")
	}
	if len(records) == 0 {
		fmt.Println("The library is empty.")
		return
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		orig := ""
		if rec.OriginalID > 0 {
			orig = strconv.FormatInt(rec.OriginalID, 10)
		}
		rows = append(rows, []string{
			strconv.FormatInt(rec.ID, 10),
			orig,
			rec.RelativePath,
			rec.MimeType,
			helpers.BytesToSize(uint64(rec.Size)),
		})
	}
	fmt.Println(renderTable([]string{"ID", "Original", "Path", "Type", "Size"}, rows, 0, 1, 4))
	fmt.Printf("%d record(s)\n", len(records))
}

func runDbShow(cmd *cobra.Command, args []string) {
	id := parseAssetID(args[0])
	st := mustOpenStores()
	defer st.Close()

	rec, err := st.library.Get(id)
	if errors.Is(err, library.ErrNotFound) {
		log.Fatalf("No record with id %d", id)
	}
	if err != nil {
		log.WithError(err).Fatalf("Failed to read record %d", id)
	}
	out, _ := json.MarshalIndent(struct {
		Record any    `json:"record"`
		File   string `json:"file"`
		URL    string `json:"url"`
	}{rec, st.library.FilePath(rec), st.library.URL(rec)}, "", "  ")
	fmt.Println(string(out))
}

func runDbForget(cmd *cobra.Command, args []string) {
	id := parseAssetID(args[0])
	st := mustOpenStores()
	defer st.Close()

	if err := st.library.Forget(id); err != nil {
		if errors.Is(err, library.ErrNotFound) {
			log.Fatalf("No record with id %d", id)
		}
		log.WithError(err).Fatalf("Failed to forget record %d", id)
	}

	idx, err := index.OpenOrCreateIndex(globalConfig.IndexPath)
	if err != nil {
		log.WithError(err).Warn("Could not open asset index; it is refreshed on the next run")
	} else {
		if err := index.DeleteItem(idx, index.DocID(id)); err != nil {
			log.WithError(err).Warnf("Could not remove asset %d from the index", id)
		}
		idx.Close()
	}
	log.Infof("Forgot asset %d", id)
}

func runDbReindex(cmd *cobra.Command, args []string) {
	st := mustOpenStores()
	defer st.Close()

	if err := index.DeleteIndex(globalConfig.IndexPath); err != nil {
		log.WithError(err).Fatalf("Failed to delete index at %s", globalConfig.IndexPath)
	}
	idx, err := index.OpenOrCreateIndex(globalConfig.IndexPath)
	if err != nil {
		log.WithError(err).Fatalf("Failed to create index at %s", globalConfig.IndexPath)
	}
	defer idx.Close()
	if err := resolver.NewIndexResolver(idx, st.library).Sync(); err != nil {
		log.WithError(err).Fatal("Failed to rebuild index")
	}
	count, _ := idx.DocCount()
	log.Infof("Index rebuilt with %d asset(s)", count)
}

func runDbVerify(cmd *cobra.Command, args []string) {
	checkHash, _ := cmd.Flags().GetBool("check-hash")
	st := mustOpenStores()
	defer st.Close()

	records, err := st.library.List()
	if err != nil {
		log.WithError(err).Fatal("Failed to list records")
	}

	var ok, missing, mismatched int
	var problems [][]string
	for _, rec := range records {
		path := st.library.FilePath(rec)
		if _, err := os.Stat(path); err != nil {
			missing++
			problems = append(problems, []string{strconv.FormatInt(rec.ID, 10), "missing", rec.RelativePath})
			continue
		}
		if checkHash {
			if err := st.library.Verify(rec); err != nil {
				mismatched++
				problems = append(problems, []string{strconv.FormatInt(rec.ID, 10), err.Error(), rec.RelativePath})
				continue
			}
		}
		ok++
	}

	if len(problems) > 0 {
		fmt.Println(renderTable([]string{"ID", "Problem", "Path"}, problems, 0))
	}
	fmt.Printf("Verified %d record(s): %d ok, %d missing, %d mismatched\n", len(records), ok, missing, mismatched)
	if missing > 0 || mismatched > 0 {
		os.Exit(1)
	}
}

func runDbSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	st := mustOpenStores()
	defer st.Close()

	idx, err := index.OpenOrCreateIndex(globalConfig.IndexPath)
	if err != nil {
		log.WithError(err).Fatalf("Failed to open index at %s", globalConfig.IndexPath)
	}
	defer idx.Close()
	if err := resolver.NewIndexResolver(idx, st.library).Sync(); err != nil {
		log.WithError(err).Warn("Could not refresh index, results may be stale")
	}

	result, err := index.SearchIndex(idx, args[0])
	if err != nil {
		log.WithError(err).Fatal("Search failed")
	}
	if result.Total == 0 {
		fmt.Println("No matches.")
		return
	}

	var rows [][]string
	for i, hit := range result.Hits {
		if limit > 0 && i >= limit {
			break
		}
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		rec, err := st.library.Get(id)
		if err != nil {
			continue
		}
		rows = append(rows, []string{hit.ID, fmt.Sprintf("%.3f", hit.Score), rec.RelativePath, rec.Title})
	}
	fmt.Println(renderTable([]string{"ID", "Score", "Path", "Title"}, rows, 0, 1))
	fmt.Printf("%d match(es)\n", result.Total)
}

func runDbMap(cmd *cobra.Command, args []string) {
	st := mustOpenStores()
	defer st.Close()

	ids, err := st.identities.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load identity map")
	}
	rows := make([][]string, 0, ids.Len())
	for _, orig := range ids.OriginalIDs() {
		local, _ := ids.Lookup(orig)
		state := "ok"
		if !st.library.Exists(local) {
			state = "missing"
		}
		rows = append(rows, []string{strconv.FormatInt(orig, 10), strconv.FormatInt(local, 10), state})
	}
	fmt.Println(renderTable([]string{"Original", "Local", "Record"}, rows, 0, 1))
	fmt.Printf("%d mapping(s)\n", ids.Len())
}
