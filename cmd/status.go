package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agencyscope/agencydir/internal/crawler"
)

var statusDBPath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest scraping session and store contents",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyDBFlag(cmd, statusDBPath)
		st, err := initStore(cmd.Context())
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		defer st.Close() //nolint:errcheck

		printSessionSummary(cmd.Context(), st)

		categories, err := st.ListCategories(cmd.Context())
		if err != nil {
			return err
		}
		scraped := 0
		for _, c := range categories {
			if c.Scraped {
				scraped++
			}
		}
		backlog, err := st.AgenciesMissingDetail(cmd.Context())
		if err != nil {
			return err
		}
		agencies, err := st.ListAgencies(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("store: %d categories (%d scraped), %d agencies, %d missing detail\n",
			len(categories), scraped, len(agencies), len(backlog))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusDBPath, "db", "", "sqlite database path")
}

func printSessionSummary(ctx context.Context, st crawler.Store) {
	sess, err := st.LatestSession(ctx)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			fmt.Println("no scraping session recorded yet")
		} else {
			fmt.Printf("session lookup failed: %v\n", err)
		}
		return
	}

	fmt.Printf("session %s: %s (started %s)\n",
		sess.ID, sess.Status, sess.StartedAt.Format(time.RFC3339))
	fmt.Printf("  categories %d/%d  agencies %d/%d  details %d/%d\n",
		sess.CategoriesScraped, sess.CategoriesTotal,
		sess.AgenciesScraped, sess.AgenciesTotal,
		sess.DetailsScraped, sess.DetailsTotal)
	if sess.EndedAt != nil {
		fmt.Printf("  ended %s\n", sess.EndedAt.Format(time.RFC3339))
	} else if sess.Status == crawler.StatusRunning {
		fmt.Printf("  still marked running since %s; if no crawl process is alive, the previous run crashed and the next crawl will resume its work\n",
			sess.StartedAt.Format(time.RFC3339))
	}
}
