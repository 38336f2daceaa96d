package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/Fortunato28/ninegag2telegram"
	"github.com/Fortunato28/ninegag2telegram/internal/session"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "list finished requests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "failed",
				Usage: "only show requests that failed at `STAGE`",
			},
		},
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)
			history, err := openHistory(&cfg.History)
			if err != nil {
				return err
			}
			defer history.Close()

			records, err := listHistory(history, ninegag2telegram.Stage(c.String("failed")))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FINISHED\tID\tSTAGE\tFILENAME\tERROR")
			for _, r := range records {
				stage := r.Stage
				if r.FailedStage != "" {
					stage = r.FailedStage
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.FinishedAt.Local().Format("2006-01-02 15:04:05"), r.ID, stage, r.Filename, r.Error)
			}
			return w.Flush()
		},
	}
}

type failedLister interface {
	ListFailedRequests(stage ninegag2telegram.Stage) ([]session.RequestRecord, error)
}

func listHistory(db session.Database, failedAt ninegag2telegram.Stage) ([]session.RequestRecord, error) {
	if failedAt == "" {
		return db.ListRequests()
	}
	if lister, ok := db.(failedLister); ok {
		return lister.ListFailedRequests(failedAt)
	}
	all, err := db.ListRequests()
	if err != nil {
		return nil, err
	}
	var records []session.RequestRecord
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Stage == ninegag2telegram.StageFailed && all[i].FailedStage == failedAt {
			records = append(records, all[i])
		}
	}
	return records, nil
}
