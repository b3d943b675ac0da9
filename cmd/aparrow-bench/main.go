// Command aparrow-bench measures the hot paths of the runtime: loop
// posting, signal dispatch (same-loop and cross-loop) and coroutine
// context switching.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v3"

	aparrow "github.com/forKnowYou/aparrow-event"
)

const itersKey = "iters"

func main() {
	cmd := &cli.Command{
		Name:  "aparrow-bench",
		Usage: "Benchmark the aparrow event runtime",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  itersKey,
				Usage: "Iterations per benchmark",
				Value: 10_000,
			},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

type pinger struct {
	aparrow.Object
	Ping aparrow.Signal[int]
}

func run(ctx context.Context, cmd *cli.Command) error {
	iters := int(cmd.Uint(itersKey))
	log.Printf("running %s iterations per benchmark", humanize.Comma(int64(iters)))

	tbl := table.NewWriter()
	tbl.SetTitle("aparrow hot paths")
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"benchmark", "avg", "min", "p75", "p99", "max"})

	tbl.AppendRows([]table.Row{benchWorkSync(iters)})
	tbl.AppendRows([]table.Row{benchDispatchSameLoop(iters)})
	tbl.AppendRows([]table.Row{benchDispatchCrossLoop(iters)})
	tbl.AppendRows([]table.Row{benchYield(iters)})

	tbl.Render()
	return nil
}

func row(name string, tach *tachymeter.Tachymeter) table.Row {
	calc := tach.Calc()
	return table.Row{
		name,
		calc.Time.Avg,
		calc.Time.Min,
		calc.Time.P75,
		calc.Time.P99,
		calc.Time.Max,
	}
}

func benchWorkSync(iters int) table.Row {
	tach := tachymeter.New(&tachymeter.Config{Size: iters})
	l := aparrow.NewLoop("bench.worksync")
	defer l.DeleteLater()

	for i := 0; i < iters; i++ {
		start := time.Now()
		l.WorkSync(func() {})
		tach.AddTime(time.Since(start))
	}
	return row("loop: WorkSync round trip", tach)
}

func benchDispatchSameLoop(iters int) table.Row {
	tach := tachymeter.New(&tachymeter.Config{Size: iters})
	l := aparrow.NewLoop("bench.dispatch")
	defer l.DeleteLater()

	l.WorkSync(func() {
		p := &pinger{}
		p.Init()
		sink := 0
		if _, err := aparrow.Connect(p, &p.Ping, func(v int) { sink += v }); err != nil {
			log.Fatal(err)
		}
		for i := 0; i < iters; i++ {
			start := time.Now()
			p.Ping.Dispatch(i)
			tach.AddTime(time.Since(start))
		}
		fmt.Fprintln(os.Stderr, "sink:", humanize.Comma(int64(sink)))
	})
	return row("signal: dispatch same loop", tach)
}

func benchDispatchCrossLoop(iters int) table.Row {
	tach := tachymeter.New(&tachymeter.Config{Size: iters})
	sender := aparrow.NewLoop("bench.sender")
	receiver := aparrow.NewLoop("bench.receiver")
	defer sender.DeleteLater()
	defer receiver.DeleteLater()

	p := &pinger{}
	sender.WorkSync(func() { p.Init() })

	done := make(chan struct{}, 1)
	receiver.WorkSync(func() {
		if _, err := aparrow.Connect(p, &p.Ping, func(int) {
			done <- struct{}{}
		}); err != nil {
			log.Fatal(err)
		}
	})
	sender.WorkSync(func() {}) // setup barrier

	for i := 0; i < iters; i++ {
		start := time.Now()
		p.Ping.Dispatch(i)
		<-done
		tach.AddTime(time.Since(start))
	}
	return row("signal: dispatch cross loop", tach)
}

func benchYield(iters int) table.Row {
	tach := tachymeter.New(&tachymeter.Config{Size: iters})
	co := aparrow.NewCoroutine("bench.co")
	defer co.DeleteLater()

	ctx := co.Work(func() {
		for i := 0; i < iters; i++ {
			start := time.Now()
			aparrow.Yield()
			tach.AddTime(time.Since(start))
		}
	}, 0, 0)
	co.Join(ctx)

	return row("coroutine: yield round trip", tach)
}
