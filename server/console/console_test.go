package console

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/wHoIsDReAmer/Pumpkin/server"
)

func newTestConsole(t *testing.T, input string) (*Console, *bytes.Buffer, *server.Server) {
	t.Helper()
	srv, err := server.Config{
		Log:           slog.New(slog.DiscardHandler),
		Dir:           t.TempDir(),
		TickInterval:  -1,
		SaveInterval:  -1,
		DisableNether: true,
		DisableEnd:    true,
	}.New()
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	buf := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(buf, nil))
	return New(srv, log).WithReader(strings.NewReader(input)), buf, srv
}

func TestConsoleCommands(t *testing.T) {
	c, buf, srv := newTestConsole(t, "help\n/chunk overworld 1 2\nstatus\nsave\nbogus\n")
	c.Run(context.Background())

	out := buf.String()
	for _, want := range []string{"Lists all commands.", "Chunk (1, 2)", "status=minecraft:noise", "resident=1", "Saved all worlds.", "Unknown command: bogus"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%v", want, out)
		}
	}
	if s := srv.World().Stats(); s.Dirty != 0 {
		t.Fatalf("expected no dirty chunks after save, got %d", s.Dirty)
	}
}

func TestConsoleStop(t *testing.T) {
	c, buf, _ := newTestConsole(t, "stop\nsave\n")
	stopped := false
	c.WithStop(func() { stopped = true }).Run(context.Background())
	if !stopped {
		t.Fatalf("expected stop function to be called")
	}
	if strings.Contains(buf.String(), "Saved all worlds.") {
		t.Fatalf("expected console to stop reading after stop")
	}
}

func TestConsoleChunkErrors(t *testing.T) {
	c, buf, _ := newTestConsole(t, "chunk overworld 1\nchunk moon 0 0\nchunk end x 0\n")
	c.Run(context.Background())
	out := buf.String()
	for _, want := range []string{"usage: chunk", "unknown dimension", "parse x"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%v", want, out)
		}
	}
}
