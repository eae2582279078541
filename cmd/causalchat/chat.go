package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/amaydixit11/causalchat/internal/config"
	"github.com/amaydixit11/causalchat/internal/core"
	"github.com/amaydixit11/causalchat/internal/engine"
	"github.com/amaydixit11/causalchat/internal/network"
	"github.com/amaydixit11/causalchat/internal/search"
	"github.com/rs/zerolog"
)

const chatHelp = `Commands:
  <text>               send as the current process
  <id>: <text>         send as process id
  /as <id>             switch the current process
  /clock               show every process clock
  /pending             show buffered messages per process
  /history [id]        show a process's delivered log
  /search <query>      search the current process's history
  /reset [n]           start a new session with n processes
  /delay fast|normal|slow
  /help
  /quit`

var errQuit = errors.New("quit")

func cmdChat(args []string) {
	cfg := loadConfig()

	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	processes := fs.Int("processes", cfg.Processes, "Number of processes (2-5)")
	preset := fs.String("preset", "", "Delay preset: fast, normal, slow")
	fs.Parse(args)

	if err := config.ValidateProcesses(*processes); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *preset != "" {
		d, err := network.Preset(*preset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg.MaxDelay = d
	}
	cfg.Processes = *processes

	// Log lines would tear the prompt
	rt, err := newRuntime(cfg, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rt.sim.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	in, out, restore, err := openConsole()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer restore()

	c := newChat(rt.sim, rt.delays, rt.index, out)
	sub := rt.engine.SubscribeWithOptions(engine.SubscriptionOptions{
		Events:     []engine.EventType{engine.EventDelivered, engine.EventReset},
		BufferSize: 1024,
	})
	go c.follow(sub)

	fmt.Fprintf(out, "causalchat: %d processes, max delay %s. /help for commands.\r\n",
		cfg.Processes, cfg.MaxDelay)
	for {
		line, err := in.ReadLine()
		if err != nil {
			return
		}
		if err := c.handle(line); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			c.printf("error: %v", err)
		}
	}
}

// lineReader is satisfied by term.Terminal and the scanner fallback
type lineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	scanner *bufio.Scanner
}

func (s scannerReader) ReadLine() (string, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}

// openConsole puts stdin in raw mode behind a line editor when it is a
// terminal, and falls back to plain line reading otherwise.
func openConsole() (lineReader, io.Writer, func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return scannerReader{scanner: bufio.NewScanner(os.Stdin)}, os.Stdout, func() {}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("enter raw mode: %w", err)
	}
	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "> ")
	return t, t, func() { term.Restore(fd, state) }, nil
}

// chat interprets console commands against a running simulator
type chat struct {
	sim    *network.Simulator
	delays *network.UniformDelay
	index  *search.Index
	out    io.Writer
	as     int
}

func newChat(sim *network.Simulator, delays *network.UniformDelay, idx *search.Index, out io.Writer) *chat {
	return &chat{sim: sim, delays: delays, index: idx, out: out}
}

func (c *chat) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format+"\r\n", args...)
}

// follow prints deliveries from other processes and session resets
func (c *chat) follow(sub engine.Subscription) {
	for ev := range sub.Events() {
		switch ev.Type {
		case engine.EventReset:
			c.printf("-- new session %s", ev.SessionID)
		case engine.EventDelivered:
			m := ev.Message
			if m == nil || m.SenderID == ev.ProcessID {
				continue
			}
			c.printf("  p%d <- p%d #%d %s %q  clock=%s",
				ev.ProcessID, m.SenderID, m.ID, m.StampedClock, m.Payload, ev.Clock)
		}
	}
}

func (c *chat) handle(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.send(line)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	e := c.sim.Engine()

	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		for _, l := range strings.Split(chatHelp, "\n") {
			c.printf("%s", l)
		}
	case "/as":
		if len(args) != 1 {
			return errors.New("usage: /as <id>")
		}
		id, err := c.processArg(args[0])
		if err != nil {
			return err
		}
		c.as = id
		c.printf("now sending as p%d", id)
	case "/clock":
		for p := 0; p < e.NumProcesses(); p++ {
			clock, _ := e.CurrentClock(p)
			c.printf("p%d %s", p, clock)
		}
	case "/pending":
		for p := 0; p < e.NumProcesses(); p++ {
			pending, _ := e.Pending(p)
			c.printf("p%d %d pending", p, len(pending))
			for _, m := range pending {
				c.printf("    #%d from p%d %s %q", m.ID, m.SenderID, m.StampedClock, m.Payload)
			}
		}
	case "/history":
		id := c.as
		if len(args) > 0 {
			var err error
			if id, err = c.processArg(args[0]); err != nil {
				return err
			}
		}
		delivered, err := e.Delivered(id)
		if err != nil {
			return err
		}
		c.printf("p%d delivered %d messages", id, len(delivered))
		for _, m := range delivered {
			c.printf("    #%d p%d %s %q", m.ID, m.SenderID, m.StampedClock, m.Payload)
		}
	case "/search":
		if len(args) == 0 {
			return errors.New("usage: /search <query>")
		}
		return c.search(strings.Join(args, " "))
	case "/reset":
		n := e.NumProcesses()
		if len(args) > 0 {
			var err error
			if n, err = strconv.Atoi(args[0]); err != nil {
				return fmt.Errorf("invalid process count: %s", args[0])
			}
		}
		if err := config.ValidateProcesses(n); err != nil {
			return err
		}
		if err := c.sim.Reset(n); err != nil {
			return err
		}
		c.as = 0
	case "/delay":
		if len(args) != 1 {
			return errors.New("usage: /delay fast|normal|slow")
		}
		d, err := network.Preset(args[0])
		if err != nil {
			return err
		}
		c.delays.SetMax(d)
		c.printf("max delay now %s", d)
	default:
		return fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return nil
}

// send handles "<id>: text" and plain text
func (c *chat) send(line string) error {
	sender := c.as
	if prefix, text, ok := strings.Cut(line, ":"); ok {
		if id, err := strconv.Atoi(strings.TrimSpace(prefix)); err == nil {
			sender = id
			line = strings.TrimSpace(text)
		}
	}
	if line == "" {
		return errors.New("empty message")
	}
	msg, err := c.sim.Send(sender, line)
	if err != nil {
		return err
	}
	c.printf("p%d sent #%d %s %q", sender, msg.ID, msg.StampedClock, msg.Payload)
	return nil
}

func (c *chat) search(q string) error {
	e := c.sim.Engine()
	receiver := c.as
	results, err := c.index.Search(q, search.SearchOptions{
		Session:  e.SessionID().String(),
		Receiver: &receiver,
	})
	if err != nil {
		return err
	}
	delivered, err := e.Delivered(receiver)
	if err != nil {
		return err
	}
	byID := make(map[uint64]string, len(delivered))
	for _, m := range delivered {
		byID[m.ID] = m.Payload
	}

	c.printf("%d matches at p%d", len(results), receiver)
	for _, r := range results {
		c.printf("    #%d %q (%.2f)", r.MessageID, byID[r.MessageID], r.Score)
	}
	return nil
}

func (c *chat) processArg(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid process id: %s", s)
	}
	if n := c.sim.Engine().NumProcesses(); id < 0 || id >= n {
		return 0, core.ErrInvalidProcessID{ID: id, N: n}
	}
	return id, nil
}
