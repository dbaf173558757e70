package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"go-media-reconcile/internal/content"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Manage the content store whose references get rewritten",
}

var contentImportCmd = &cobra.Command{
	Use:   "import [ITEMS.json]",
	Short: "Import content items from a JSON array",
	Long: `Imports a JSON array of content items (uid, originalId, type, title, body, meta).
Items that resolve to an existing item by uid, or by original id and type,
are updated in place.`,
	Args: cobra.ExactArgs(1),
	RunE: runContentImport,
}

var contentShowCmd = &cobra.Command{
	Use:   "show [ITEM_ID]",
	Short: "Show one content item as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runContentShow,
}

var contentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List content items",
	RunE:  runContentList,
}

func init() {
	rootCmd.AddCommand(contentCmd)
	contentCmd.AddCommand(contentImportCmd)
	contentCmd.AddCommand(contentShowCmd)
	contentCmd.AddCommand(contentListCmd)
}

func runContentImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	var items []content.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("decoding %s: %w", args[0], err)
	}

	st, err := openStores(globalConfig)
	if err != nil {
		return err
	}
	defer st.Close()

	stored, err := st.content.Import(items)
	if err != nil {
		return err
	}
	log.Infof("Imported %d content item(s) from %s", len(stored), args[0])
	return nil
}

func runContentShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid item id %q", args[0])
	}
	st, err := openStores(globalConfig)
	if err != nil {
		return err
	}
	defer st.Close()

	it, err := st.content.Get(id)
	if errors.Is(err, content.ErrNotFound) {
		return fmt.Errorf("no content item with id %d", id)
	}
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(it, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runContentList(cmd *cobra.Command, args []string) error {
	st, err := openStores(globalConfig)
	if err != nil {
		return err
	}
	defer st.Close()

	items, err := st.content.List()
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		visual := ""
		if it.PrimaryVisual > 0 {
			visual = strconv.FormatInt(it.PrimaryVisual, 10)
		}
		rows = append(rows, []string{strconv.FormatInt(it.ID, 10), it.Type, it.UID, it.Title, strconv.Itoa(len(it.Meta)), visual})
	}
	fmt.Println(renderTable([]string{"ID", "Type", "UID", "Title", "Meta keys", "Primary"}, rows, 0, 4, 5))
	return nil
}
