// Tool to generate fake mailboxes and traffic against the freemail cache
// layer. Intended for development and benchmarking: it seeds a store, replays
// a read-heavy workload from parallel workers, then dumps the cache counters.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"runtime"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"

	"github.com/a1418507570/freemail/mailstore"
	"github.com/a1418507570/freemail/models"
	"github.com/a1418507570/freemail/util/cliutil"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	cli "github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "mailsim",
		Usage:   "fake mailbox/traffic generator for the freemail cache layer",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://:memory:",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.StringFlag{
			Name:    "log-level",
			EnvVars: []string{"FREEMAIL_LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "seed a store and replay a workload against it",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "mailboxes",
			Aliases: []string{"n"},
			Usage:   "number of mailboxes to seed",
			Value:   200,
		},
		&cli.IntFlag{
			Name:    "messages",
			Aliases: []string{"m"},
			Usage:   "number of messages to seed",
			Value:   2000,
		},
		&cli.IntFlag{
			Name:    "jobs",
			Aliases: []string{"j"},
			Usage:   "number of parallel workers",
			Value:   runtime.NumCPU(),
		},
		&cli.IntFlag{
			Name:  "ops",
			Usage: "operations per worker",
			Value: 5000,
		},
	},
	Action: runSim,
}

func runSim(cctx *cli.Context) error {
	ctx := context.Background()

	logger, err := cliutil.SetupSlog(cliutil.LogOptions{
		LogFormat: "json",
		LogLevel:  cctx.String("log-level"),
	})
	if err != nil {
		return err
	}

	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return err
	}

	st, err := mailstore.NewStore(db, mailstore.DefaultCacheConfig())
	if err != nil {
		return err
	}

	faker := gofakeit.New(0)

	nboxes := cctx.Int("mailboxes")
	addrs := make([]string, 0, nboxes)
	for len(addrs) < nboxes {
		addr := fmt.Sprintf("%s@%s", faker.Username(), faker.DomainName())
		mb, err := st.CreateMailbox(ctx, addr)
		if err != nil {
			// unique-index collision on a repeated fake address, try again
			continue
		}
		addrs = append(addrs, mb.Address)
	}

	msgIDs := make([]models.Uid, 0, cctx.Int("messages"))
	for i := 0; i < cctx.Int("messages"); i++ {
		uid, err := st.MailboxID(ctx, addrs[faker.IntRange(0, len(addrs)-1)])
		if err != nil {
			return err
		}
		msg := &models.Message{
			Mailbox: uid,
			Sender:  faker.Email(),
			Subject: faker.Sentence(4),
			Source:  []byte(faker.Paragraph(1, 3, 12, " ")),
		}
		if err := st.AddMessage(ctx, msg); err != nil {
			return err
		}
		msgIDs = append(msgIDs, msg.ID)
	}
	logger.Info("seeded store", "mailboxes", len(addrs), "messages", len(msgIDs))

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cctx.Int("jobs"); w++ {
		w := w
		g.Go(func() error {
			return worker(gctx, st, addrs, msgIDs, cctx.Int("ops"), int64(w))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("workload complete",
		"workers", cctx.Int("jobs"),
		"ops", cctx.Int("jobs")*cctx.Int("ops"),
		"took", time.Since(start).String())

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	printCacheCounters(logger, mfs)
	return nil
}

// worker replays a read-heavy operation mix: address lookups (some for
// addresses that never existed), message fetches skewed toward a hot subset,
// quota and statistic reads, and occasional writes. Every iteration offers
// the sweep gate a pass, as a request handler would.
func worker(ctx context.Context, st *mailstore.Store, addrs []string, msgIDs []models.Uid, ops int, seed int64) error {
	r := rand.New(rand.NewSource(seed))
	stats := []string{mailstore.StatMailboxesTotal, mailstore.StatMessagesTotal, mailstore.StatMessagesBytes}

	for i := 0; i < ops; i++ {
		switch r.Intn(10) {
		case 0, 1, 2:
			if _, err := st.MailboxID(ctx, addrs[r.Intn(len(addrs))]); err != nil {
				return err
			}
		case 3:
			// unknown address, exercises the negative cache
			if _, err := st.MailboxID(ctx, fmt.Sprintf("ghost%d@nowhere.test", r.Intn(50))); err != nil {
				return err
			}
		case 4, 5, 6:
			// hot subset: most reads hit a tenth of the messages
			id := msgIDs[r.Intn(len(msgIDs))]
			if r.Intn(10) != 0 {
				id = msgIDs[r.Intn(1+len(msgIDs)/10)]
			}
			if _, err := st.Message(ctx, id); err != nil && !errors.Is(err, mailstore.ErrMessageNotFound) {
				return err
			}
		case 7:
			uid, err := st.MailboxID(ctx, addrs[r.Intn(len(addrs))])
			if err != nil {
				return err
			}
			if _, err := st.QuotaUsed(ctx, uid); err != nil {
				return err
			}
		case 8:
			if _, err := st.StatValue(ctx, stats[r.Intn(len(stats))]); err != nil {
				return err
			}
		case 9:
			uid, err := st.MailboxID(ctx, addrs[r.Intn(len(addrs))])
			if err != nil {
				return err
			}
			err = st.AddMessage(ctx, &models.Message{
				Mailbox: uid,
				Sender:  "load@mailsim.test",
				Subject: "generated",
				Source:  []byte("generated message body"),
			})
			if err != nil {
				return err
			}
		}
		st.MaybeSweep()
	}
	return nil
}

func printCacheCounters(logger *slog.Logger, mfs []*dto.MetricFamily) {
	for _, mf := range mfs {
		if !strings.HasPrefix(mf.GetName(), "freemail_") {
			continue
		}
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, m := range mf.GetMetric() {
			attrs := []any{"value", m.GetCounter().GetValue()}
			for _, lp := range m.GetLabel() {
				attrs = append(attrs, lp.GetName(), lp.GetValue())
			}
			logger.Info(mf.GetName(), attrs...)
		}
	}
}
