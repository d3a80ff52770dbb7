package main

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/victornm/quizsync/internal/api"
	"github.com/victornm/quizsync/internal/client"
	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/leaderboard"
)

type watchFlags struct {
	server   string
	path     string
	code     string
	host     bool
	interval time.Duration
	timeout  time.Duration
}

func newWatchCmd() *cobra.Command {
	var wf watchFlags

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a game's leaderboard in the terminal, as a display or as the host of a new game.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if wf.host == (wf.code != "") {
				return fmt.Errorf("exactly one of --code or --host is required")
			}

			return runWatch(cmd, wf)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&wf.server, "server", "s", "http://localhost:8080", "base URL of the game server")
	fs.StringVar(&wf.path, "path", api.DefaultPath, "path of the game endpoint")
	fs.StringVar(&wf.code, "code", "", "join code of the game to display")
	fs.BoolVar(&wf.host, "host", false, "create a new game and follow it as its host")
	fs.DurationVar(&wf.interval, "interval", client.DefaultInterval, "time between two polls")
	fs.DurationVar(&wf.timeout, "timeout", client.DefaultTimeout, "timeout of a single poll")

	return cmd
}

func runWatch(cmd *cobra.Command, wf watchFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	c := client.New(client.Config{BaseURL: wf.server, Path: wf.path})
	sc := client.SyncConfig{
		Interval: wf.interval,
		Timeout:  wf.timeout,
		OnUpdate: func(snap domain.Snapshot) {
			printLeaderboard(out, leaderboard.Rank(snap), snap.SharedImage)
		},
		OnError: func(err error) {
			slog.DebugContext(ctx, "watch: poll failed", "error", err)
		},
	}

	var stop func()
	if wf.host {
		h := client.NewHost(c, sc)
		game, err := h.CreateGame(ctx)
		if err != nil {
			return fmt.Errorf("create game: %w", err)
		}
		stop = h.Stop

		fmt.Fprintf(out, "Game %s created, join code %s\nQR code: %s/qr/%s\n", game.GameID, game.Code, wf.server, game.Code)
	} else {
		d := client.NewDisplay(c, sc)
		if err := d.Watch(wf.code); err != nil {
			return err
		}
		stop = d.Stop
	}

	<-ctx.Done()
	stop()
	return nil
}

func printLeaderboard(w io.Writer, l domain.Leaderboard, image string) {
	fmt.Fprintf(w, "\n== %s == %s\n", l.Code, time.Now().Format(time.TimeOnly))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tSCORE")
	for _, e := range l.Entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", e.Rank, e.Name, e.Score)
	}
	_ = tw.Flush()

	if image != "" {
		fmt.Fprintf(w, "image: %d bytes\n", len(image))
	}
}
