package commands

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"stravacrawl/lib/configutil"
	"stravacrawl/lib/osutil"

	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"
)

var (
	nicknamesFile  *string
	nicknamesLimit *int64
)

func init() {
	nicknamesFile = nicknamesCmd.Flags().String("file", "strava_uris.txt", "A file with one profile url per line.")
	nicknamesLimit = nicknamesCmd.Flags().Int64("limit", 200, "Maximum number of lookups in flight.")
	rootCmd.AddCommand(nicknamesCmd)
}

func readUris(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var uris []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		uris = append(uris, line)
	}
	return uris, scanner.Err()
}

var nicknamesCmd = &cobra.Command{
	Use:   "nicknames [--file <strava_uris.txt>] [--limit <n>]",
	Short: "Resolves the display name behind each profile url in a file.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			osutil.Fatal("failed to read config", err)
		}

		uris, err := readUris(*nicknamesFile)
		if err != nil {
			osutil.Fatal("failed to read uri file", err)
		}
		slog.Info("resolving nicknames", "uris", len(uris))

		client := createClient(cmd.Context(), cfg, false)
		defer client.Close()

		sem := semaphore.NewWeighted(*nicknamesLimit)
		nicknames := make([]string, len(uris))

		var wg sync.WaitGroup
		for i, uri := range uris {
			if err := sem.Acquire(cmd.Context(), 1); err != nil {
				osutil.Fatal("canceled", err)
			}

			wg.Add(1)
			go func(i int, uri string) {
				defer wg.Done()
				defer sem.Release(1)

				nickname, err := client.Nickname(cmd.Context(), uri)
				if err != nil {
					osutil.Fatal("failed to resolve nickname", err)
				}
				nicknames[i] = nickname
			}(i, uri)
		}
		wg.Wait()

		for i, uri := range uris {
			fmt.Printf("%s: %s\n", uri, nicknames[i])
		}
	},
}
