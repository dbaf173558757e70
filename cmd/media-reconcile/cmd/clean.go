package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().Bool("dry-run", false, "Only list what would be removed")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove leftover temporary files from the library",
	Long: `Recursively scans the library and removes files ending in .tmp, which are
left behind when a fetch or copy is interrupted. The database and index
directories are not touched.`,
	Run: runClean,
}

func runClean(cmd *cobra.Command, args []string) {
	root := globalConfig.LibraryPath
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		log.Errorf("Library directory does not exist: %s", root)
		os.Exit(1)
	}
	if err != nil {
		log.Errorf("Error accessing library %q: %v", root, err)
		os.Exit(1)
	}
	if !info.IsDir() {
		log.Errorf("Library path is not a directory: %s", root)
		os.Exit(1)
	}

	skip := map[string]bool{}
	for _, p := range []string{globalConfig.DatabasePath, globalConfig.IndexPath} {
		if abs, err := filepath.Abs(p); err == nil {
			skip[abs] = true
		}
	}

	log.Infof("Scanning for .tmp files in %s...", root)
	var removed, failed int
	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() {
			if abs, err := filepath.Abs(path); err == nil && skip[abs] {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(info.Name()), ".tmp") {
			return nil
		}
		if dryRun {
			fmt.Println(path)
			removed++
			return nil
		}
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.Errorf("Failed to remove %q: %v", path, err)
				failed++
			}
			return nil
		}
		log.Debugf("Removed %s", path)
		removed++
		return nil
	})
	if walkErr != nil {
		log.Errorf("Error during directory walk of %q: %v", root, walkErr)
	}

	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}
	summary := fmt.Sprintf("Clean complete. %s %d .tmp file(s)", verb, removed)
	if failed > 0 {
		summary += fmt.Sprintf(". Failed to remove %d file(s).", failed)
	}
	log.Info(summary)

	if failed > 0 || walkErr != nil {
		os.Exit(1)
	}
}
