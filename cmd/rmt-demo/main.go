// Command rmt-demo runs the RMT driver against the simulated peripheral.
//
//	rmt-demo -plan plan.yaml                 interactive shell
//	rmt-demo -plan plan.toml -script run.txt run a script and exit
//	rmt-demo -e 'nec ir-out 0x04 0x08' -e 'sleep 50'
//	rmt-demo < run.txt                       script on a non-terminal stdin
//
// Without -plan a loopback IR pair and an 8-pixel strip are used. Bus
// events are printed, and forwarded to MQTT when the plan names a broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/term"

	"rmt-go/internal/bridge"
	"rmt-go/internal/bus"
	"rmt-go/internal/config"
	"rmt-go/internal/logx"
)

type evalFlags []string

func (e *evalFlags) String() string     { return strings.Join(*e, "; ") }
func (e *evalFlags) Set(s string) error { *e = append(*e, s); return nil }

func defaultPlan() *config.Plan {
	p := &config.Plan{
		Log: config.LogConfig{Level: "info", Development: true},
		TX: []config.TxPlan{
			{Name: "ir-out", Role: config.RoleNEC, GPIO: 4, Loopback: true},
			{Name: "pixels", Role: config.RoleLEDStrip, GPIO: 5, Pixels: 8},
		},
		RX: []config.RxPlan{
			{Name: "ir-in", Role: config.RoleNEC, GPIO: 4},
		},
	}
	config.Normalize(p)
	return p
}

func main() {
	var (
		planPath = flag.String("plan", "", "channel plan (.yaml, .yml or .toml)")
		script   = flag.String("script", "", "command script to run instead of the shell")
		quiet    = flag.Bool("q", false, "do not print bus events")
		evals    evalFlags
	)
	flag.Var(&evals, "e", "command to run (repeatable); no shell")
	flag.Parse()

	if err := run(*planPath, *script, evals, *quiet); err != nil {
		fmt.Fprintln(os.Stderr, "rmt-demo:", err)
		os.Exit(1)
	}
}

func run(planPath, script string, evals []string, quiet bool) error {
	plan := defaultPlan()
	if planPath != "" {
		p, err := config.Load(planPath)
		if err != nil {
			return err
		}
		plan = p
	}

	log, err := logx.New(plan.Log.Level, plan.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	logx.Install(log)

	a, err := newApp(plan, log)
	if err != nil {
		return err
	}
	defer a.close()

	out := io.Writer(os.Stdout)
	if quiet {
		out = nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	wait := a.background(ctx, out, nil)
	defer func() {
		cancel()
		wait()
	}()

	switch {
	case script != "":
		f, err := os.Open(script)
		if err != nil {
			return err
		}
		defer f.Close()
		return a.runScript(f, os.Stdout)
	case len(evals) > 0:
		return a.runScript(strings.NewReader(strings.Join(evals, "\n")), os.Stdout)
	case !term.IsTerminal(int(os.Stdin.Fd())):
		return a.runScript(os.Stdin, os.Stdout)
	default:
		sh := newShell(a)
		sh.Println("rmt-demo on", plan.Variant, "- type help")
		sh.Run()
		return nil
	}
}

// background starts the event printer (when out is set) and the MQTT
// bridge (when the plan names a broker). The returned func waits for both
// to stop after ctx is cancelled; the bus must outlive it.
func (a *app) background(ctx context.Context, out io.Writer, dial bridge.Dialer) (wait func()) {
	var wg sync.WaitGroup
	if out != nil {
		conn := a.bus.NewConnection("printer")
		wg.Add(1)
		go func() {
			defer wg.Done()
			printEvents(ctx, conn, out)
		}()
	}
	if a.plan.MQTT != nil {
		br := bridge.New(a.bus.NewConnection("bridge"), *a.plan.MQTT, bus.T("#"), dial, a.log.Named("bridge"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			br.Run(ctx)
		}()
		a.log.Info("mqtt bridge started", zap.String("broker", a.plan.MQTT.Broker))
	}
	return wg.Wait
}

func printEvents(ctx context.Context, conn *bus.Connection, out io.Writer) {
	sub := conn.Subscribe(bus.T("#"))
	defer conn.Disconnect()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			fmt.Fprintf(out, "[%s] %v\n", m.Topic, m.Payload)
		}
	}
}
