package main

import (
	"bufio"
	"context"
	"fmt"
	"image/color"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"rmt-go/drivers/ledstrip"
	"rmt-go/rmt"
	"rmt-go/rmt/encoder"
	"rmt-go/rmt/symbol"
	"rmt-go/x/timex"
)

const sendTimeout = time.Second

type command struct {
	name  string
	usage string
	help  string
	min   int
	run   func(a *app, args []string, out io.Writer) error
}

var commands []command

func init() {
	commands = []command{
		{"channels", "channels", "list channels", 0, cmdChannels},
		{"send", "send <tx> <text>", "send text on a raw channel", 2, cmdSend},
		{"pulse", "pulse <tx> <high_us> <low_us> [loops]", "send one pulse, optionally looped (-1 forever)", 3, cmdPulse},
		{"nec", "nec <tx> <addr> <cmd>", "send an NEC frame", 3, cmdNEC},
		{"repeat", "repeat <tx>", "send an NEC repeat code", 1, cmdRepeat},
		{"pixel", "pixel <tx> <index> <r> <g> <b>", "set one LED", 5, cmdPixel},
		{"fill", "fill <tx> <r> <g> <b>", "set every LED", 4, cmdFill},
		{"show", "show <tx>", "latch the LED frame", 1, cmdShow},
		{"fade", "fade <tx> <r> <g> <b> <ms>", "fade every LED to a colour", 5, cmdFade},
		{"stop", "stop <tx>", "abort the transaction in flight", 1, cmdStop},
		{"wait", "wait <tx> [ms]", "wait for the queue to drain", 1, cmdWait},
		{"sync", "sync <name>", "re-arm an aligned start", 1, cmdSync},
		{"stats", "stats", "interrupt counters", 0, cmdStats},
		{"sleep", "sleep <ms>", "pause", 1, cmdSleep},
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// exec runs one parsed command line.
func (a *app) exec(args []string, out io.Writer) error {
	if len(args) == 0 {
		return nil
	}
	if args[0] == "help" {
		for _, c := range commands {
			fmt.Fprintf(out, "  %-40s %s\n", c.usage, c.help)
		}
		return nil
	}
	c, ok := lookup(args[0])
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	if len(args)-1 < c.min {
		return fmt.Errorf("usage: %s", c.usage)
	}
	return c.run(a, args[1:], out)
}

// runScript executes r line by line. Blank lines and # comments are
// skipped; the first failing line stops the script.
func (a *app) runScript(r io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		args, err := shlex.Split(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if err := a.exec(args, out); err != nil {
			return fmt.Errorf("line %d: %s: %w", n, args[0], err)
		}
	}
	return sc.Err()
}

func cmdChannels(a *app, _ []string, out io.Writer) error {
	for _, name := range sortedKeys(a.tx) {
		e := a.tx[name]
		id := e.ch.ID()
		fmt.Fprintf(out, "tx %-10s %-8s group=%d index=%d gpio=%d res=%dHz tick=%dns mem=%d\n",
			name, e.role, id.Group, id.Index, e.ch.GPIO(), e.ch.ResolutionHz(), timex.PeriodFromHz(e.ch.ResolutionHz()), e.ch.MemSymbols())
	}
	for _, name := range sortedKeys(a.rx) {
		e := a.rx[name]
		id := e.ch.ID()
		fmt.Fprintf(out, "rx %-10s %-8s group=%d index=%d gpio=%d res=%dHz tick=%dns mem=%d\n",
			name, e.role, id.Group, id.Index, e.ch.GPIO(), e.ch.ResolutionHz(), timex.PeriodFromHz(e.ch.ResolutionHz()), e.ch.MemSymbols())
	}
	return nil
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), sendTimeout)
}

func cmdSend(a *app, args []string, _ io.Writer) error {
	e, err := a.txNamed(args[0])
	if err != nil {
		return err
	}
	if e.bytes == nil {
		return fmt.Errorf("%s is a %s channel", e.name, e.role)
	}
	ctx, cancel := withTimeout()
	defer cancel()
	return rmt.Transmit(ctx, e.ch, e.bytes, []byte(strings.Join(args[1:], " ")), rmt.TransmitConfig{})
}

func cmdPulse(a *app, args []string, _ io.Writer) error {
	e, err := a.txNamed(args[0])
	if err != nil {
		return err
	}
	high, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return err
	}
	low, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return err
	}
	loops := 0
	if len(args) > 3 {
		if loops, err = strconv.Atoi(args[3]); err != nil {
			return err
		}
	}
	res := e.ch.ResolutionHz()
	sym := symbol.New(1, uint32(timex.NsToTicks(high*1000, res)), 0, uint32(timex.NsToTicks(low*1000, res)))
	ctx, cancel := withTimeout()
	defer cancel()
	return rmt.Transmit(ctx, e.ch, encoder.NewCopyEncoder(), []symbol.Symbol{sym}, rmt.TransmitConfig{LoopCount: loops})
}

func parseByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	return uint8(v), err
}

func cmdNEC(a *app, args []string, _ io.Writer) error {
	e, err := a.txNamed(args[0])
	if err != nil {
		return err
	}
	if e.nec == nil {
		return fmt.Errorf("%s is a %s channel", e.name, e.role)
	}
	addr, err := parseByte(args[1])
	if err != nil {
		return err
	}
	cmd, err := parseByte(args[2])
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	return e.nec.Send(ctx, encoder.NECStandard(addr, cmd))
}

func cmdRepeat(a *app, args []string, _ io.Writer) error {
	e, err := a.txNamed(args[0])
	if err != nil {
		return err
	}
	if e.nec == nil {
		return fmt.Errorf("%s is a %s channel", e.name, e.role)
	}
	ctx, cancel := withTimeout()
	defer cancel()
	return e.nec.Repeat(ctx)
}

func stripOf(a *app, name string) (*txEntry, error) {
	e, err := a.txNamed(name)
	if err != nil {
		return nil, err
	}
	if e.strip == nil {
		return nil, fmt.Errorf("%s is a %s channel", e.name, e.role)
	}
	return e, nil
}

func parseRGB(args []string) (color.RGBA, error) {
	var c [3]uint8
	for i := range c {
		v, err := parseByte(args[i])
		if err != nil {
			return color.RGBA{}, err
		}
		c[i] = v
	}
	return color.RGBA{R: c[0], G: c[1], B: c[2], A: 0xff}, nil
}

func cmdPixel(a *app, args []string, _ io.Writer) error {
	e, err := stripOf(a, args[0])
	if err != nil {
		return err
	}
	i, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	c, err := parseRGB(args[2:])
	if err != nil {
		return err
	}
	if _, err := e.strip.Pixel(int16(i), 0); err != nil {
		return err
	}
	e.strip.SetPixel(int16(i), 0, c)
	return nil
}

func cmdFill(a *app, args []string, _ io.Writer) error {
	e, err := stripOf(a, args[0])
	if err != nil {
		return err
	}
	c, err := parseRGB(args[1:])
	if err != nil {
		return err
	}
	ledstrip.Fill(e.strip, c)
	return nil
}

func cmdShow(a *app, args []string, _ io.Writer) error {
	e, err := stripOf(a, args[0])
	if err != nil {
		return err
	}
	return e.strip.Display()
}

func cmdFade(a *app, args []string, _ io.Writer) error {
	e, err := stripOf(a, args[0])
	if err != nil {
		return err
	}
	c, err := parseRGB(args[1:4])
	if err != nil {
		return err
	}
	ms, err := strconv.Atoi(args[4])
	if err != nil {
		return err
	}
	d := time.Duration(ms) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), d+sendTimeout)
	defer cancel()
	return ledstrip.Fade(ctx, e.strip, c, d, 16)
}

func cmdStop(a *app, args []string, _ io.Writer) error {
	e, err := a.txNamed(args[0])
	if err != nil {
		return err
	}
	if err := e.ch.Disable(); err != nil {
		return err
	}
	return e.ch.Enable()
}

func cmdWait(a *app, args []string, _ io.Writer) error {
	e, err := a.txNamed(args[0])
	if err != nil {
		return err
	}
	d := sendTimeout
	if len(args) > 1 {
		ms, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		d = time.Duration(ms) * time.Millisecond
	}
	return e.ch.WaitAllDone(d)
}

func cmdSync(a *app, args []string, _ io.Writer) error {
	sm, ok := a.syncs[args[0]]
	if !ok {
		return fmt.Errorf("no sync group %q", args[0])
	}
	return sm.Reset()
}

func cmdStats(a *app, _ []string, out io.Writer) error {
	v := a.c.Variant()
	for g := 0; g < v.Groups; g++ {
		fmt.Fprintf(out, "group %d: dropped_irqs=%d yields=%d\n", g, a.hw.Drops(g), a.hw.Yields(g))
	}
	for _, name := range sortedKeys(a.rx) {
		if r := a.rx[name].nec; r != nil {
			fmt.Fprintf(out, "rx %s: dropped_frames=%d invalid=%d\n", name, r.Dropped(), r.Invalid())
		}
	}
	return nil
}

func cmdSleep(_ *app, args []string, _ io.Writer) error {
	ms, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return nil
}
