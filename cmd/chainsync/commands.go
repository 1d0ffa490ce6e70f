package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/internal/search"
	pkgstore "github.com/goran-ethernal/ChainSync/pkg/store"
	"github.com/spf13/cobra"
)

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	all, err := st.status.All(ctx)
	if err != nil {
		return err
	}
	statuses := make(map[string]*pkgstore.Status, len(all))
	for _, s := range all {
		statuses[s.Collection] = s
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0) //nolint:mnd
	fmt.Fprintln(w, "COLLECTION\tHIGHEST BLOCK\tDOCUMENTS\tUPDATED")

	for _, c := range st.collections {
		count, err := st.stores[c.Name].Count(ctx)
		if err != nil {
			return err
		}

		highest, updated := "-", "-"
		if s, ok := statuses[c.Name]; ok {
			highest = fmt.Sprint(s.HighestSyncedBlock)
			updated = time.Unix(s.UpdatedAt, 0).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.Name, highest, count, updated)
	}

	return w.Flush()
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Search == nil || !cfg.Search.Enabled {
		return errors.New("search is disabled in the configuration")
	}

	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	source, ok := st.stores[cfg.Search.Collection]
	if !ok {
		return fmt.Errorf("search collection %s is not synced", cfg.Search.Collection)
	}

	ctx := cmd.Context()
	index, err := search.New(cfg.Search, nil, logger.NewNopLogger())
	if err != nil {
		return err
	}
	defer index.Close()

	if _, err := index.Rebuild(ctx, source); err != nil {
		return err
	}

	hits, err := index.Query(ctx, strings.Join(args, " "), searchLimit)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no matches")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0) //nolint:mnd
	fmt.Fprintln(w, "SCORE\tBLOCK\tID\tTITLE")
	for _, hit := range hits {
		doc, err := source.Get(ctx, hit.ID)
		if errors.Is(err, pkgstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		title, _ := doc.Fields[cfg.Search.TitleField].(string)
		fmt.Fprintf(w, "%.3f\t%d\t%s\t%s\n", hit.Score, doc.BlockNumber, hit.ID, title)
	}

	return w.Flush()
}
