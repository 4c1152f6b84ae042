package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/austinkregel/local-media/streamd/internal/lyric"
	"github.com/austinkregel/local-media/streamd/internal/types"
)

const diagTimeout = 30 * time.Second

func newResolveCmd(f *flags) *cobra.Command {
	var origin, name, artist string
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a track id to a playable URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, log, err := setup(f)
			if err != nil {
				return err
			}
			defer log.Sync()

			cfg := mgr.Get().Sources
			res := newResolver(cfg, newCatalogs(cfg, log), log)

			track := types.Track{ID: args[0], Origin: types.ParseOrigin(origin), Name: name}
			if artist != "" {
				track.Artists = []types.Artist{{Name: artist}}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), diagTimeout)
			defer cancel()
			r, err := res.Resolve(ctx, &track)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "url:      %s\n", r.URL)
			fmt.Fprintf(out, "strategy: %s\n", r.Strategy)
			fmt.Fprintf(out, "expires:  %s\n", r.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "netease", "Track origin (netease or other)")
	cmd.Flags().StringVar(&name, "name", "", "Track name, used for unblock matching")
	cmd.Flags().StringVar(&artist, "artist", "", "Artist name, used for unblock matching")
	return cmd
}

func newLyricCmd(f *flags) *cobra.Command {
	var origin string
	cmd := &cobra.Command{
		Use:   "lyric <id>",
		Short: "Fetch and print the parsed lyric of a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, log, err := setup(f)
			if err != nil {
				return err
			}
			defer log.Sync()

			cats := newCatalogs(mgr.Get().Sources, log)
			loader := lyric.NewLoader(cats.netease, cats.kuwo, log)

			ctx, cancel := context.WithTimeout(cmd.Context(), diagTimeout)
			defer cancel()
			l := loader.Load(ctx, &types.Track{ID: args[0], Origin: types.ParseOrigin(origin)})
			if l.Empty() {
				return fmt.Errorf("no lyric for %s", args[0])
			}

			out := cmd.OutOrStdout()
			for i, line := range l.Lines {
				secs := l.Times[i]
				fmt.Fprintf(out, "[%02d:%05.2f] %s", int(secs)/60, secs-float64(int(secs)/60*60), line.Text)
				if line.Translation != "" {
					fmt.Fprintf(out, " / %s", line.Translation)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "netease", "Track origin (netease or other)")
	return cmd
}
