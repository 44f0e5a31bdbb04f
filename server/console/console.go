package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/wHoIsDReAmer/Pumpkin/server"
	"github.com/wHoIsDReAmer/Pumpkin/server/world"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
)

// Console provides a simple CLI backed command source that reads commands from
// an io.Reader (defaulting to os.Stdin) and executes them on the provided server.
type Console struct {
	srv    *server.Server
	log    *slog.Logger
	reader io.Reader
	stop   func()
}

// New returns a Console bound to the provided server. The console reads from
// os.Stdin and writes command output to the supplied logger.
func New(srv *server.Server, log *slog.Logger) *Console {
	if log == nil {
		log = slog.Default()
	}
	return &Console{
		srv:    srv,
		log:    log,
		reader: os.Stdin,
		stop:   func() {},
	}
}

// WithReader sets a custom reader for the console input. It enables testing the
// console without relying on os.Stdin.
func (c *Console) WithReader(r io.Reader) *Console {
	if r != nil {
		c.reader = r
	}
	return c
}

// WithStop sets the function called when the stop command is executed.
func (c *Console) WithStop(f func()) *Console {
	if f != nil {
		c.stop = f
	}
	return c
}

// Run starts consuming commands from the console. It blocks until the context
// is cancelled, the underlying reader reaches EOF or the stop command is run.
func (c *Console) Run(ctx context.Context) {
	scanner := bufio.NewScanner(c.reader)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				c.log.Error("console input error", "err", err)
			}
			return
		}
		line := strings.TrimPrefix(strings.TrimSpace(scanner.Text()), "/")
		if line == "" {
			continue
		}
		if !c.Execute(ctx, line) {
			return
		}
	}
}

// Execute runs a single command line. It returns false if the console should
// stop reading input.
func (c *Console) Execute(ctx context.Context, line string) bool {
	args := strings.Fields(line)
	name, args := strings.ToLower(args[0]), args[1:]
	command, ok := commands[name]
	if !ok {
		c.log.Error(fmt.Sprintf("Unknown command: %v. Run help for a list of commands.", name))
		return true
	}
	if err := command.run(ctx, c, args); err != nil {
		if err == errStop {
			c.stop()
			return false
		}
		c.log.Error(err.Error())
	}
	return true
}

type command struct {
	usage, description string
	run                func(ctx context.Context, c *Console, args []string) error
}

var errStop = errors.New("stop")

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":   {"help", "Lists all commands.", runHelp},
		"save":   {"save", "Saves the dirty chunks of every world.", runSave},
		"status": {"status", "Shows the cache and tick statistics of every world.", runStatus},
		"chunk":  {"chunk <dimension> <x> <z>", "Loads the chunk passed and shows its status.", runChunk},
		"stop":   {"stop", "Saves the worlds and stops the server.", runStop},
	}
}

func runHelp(_ context.Context, c *Console, _ []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		cmd := commands[name]
		c.log.Info(fmt.Sprintf("%v: %v", cmd.usage, cmd.description))
	}
	return nil
}

func runSave(_ context.Context, c *Console, _ []string) error {
	if err := c.srv.Save(); err != nil {
		return fmt.Errorf("save worlds: %w", err)
	}
	c.log.Info("Saved all worlds.")
	return nil
}

func runStatus(_ context.Context, c *Console, _ []string) error {
	for _, w := range c.srv.Worlds() {
		s := w.Stats()
		c.log.Info(w.Dimension().String(),
			"tick", s.Tick,
			"tps", strconv.FormatFloat(s.TPS, 'f', 1, 64),
			"resident", s.Resident,
			"referenced", s.Referenced,
			"dirty", s.Dirty,
			"loads", s.Loads,
			"generations", s.Generations,
			"evictions", s.Evictions,
			"scheduled", s.ScheduledUpdates,
			"fluids", s.ActiveFluids,
		)
	}
	return nil
}

func runChunk(ctx context.Context, c *Console, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: %v", commands["chunk"].usage)
	}
	dim, ok := world.DimensionByName(strings.ToLower(args[0]))
	if !ok {
		return fmt.Errorf("unknown dimension %q", args[0])
	}
	x, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("parse x: %w", err)
	}
	z, err := strconv.ParseInt(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("parse z: %w", err)
	}
	pos := chunk.Pos{int32(x), int32(z)}
	h, err := c.srv.Dimension(dim).Acquire(ctx, pos)
	if err != nil {
		return fmt.Errorf("acquire chunk %v: %w", pos, err)
	}
	defer h.Release()

	var status chunk.Status
	var highest int
	h.View(func(ch *chunk.Chunk) {
		status = ch.Status()
		highest = ch.HighestBlock(0, 0)
	})
	c.log.Info(fmt.Sprintf("Chunk %v", pos), "dimension", dim.String(), "status", status.String(), "highest", highest, "entities", len(h.Entities()))
	return nil
}

func runStop(context.Context, *Console, []string) error {
	return errStop
}
