package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zhouzirui/ai-dietitian/backend/internal/service/diet"
)

const (
	Dietitian = "Dietitian"
	User      = "You"
)

// Chat commands recognised on their own line.
const (
	CommandClear = "/clear"
	CommandQuit  = "/quit"
	CommandExit  = "/exit"
)

// Chat is a line-oriented conversation loop over a Backend.
type Chat struct {
	Backend Backend
	In      io.Reader
	Out     io.Writer
	Welcome string
	Stream  bool
	// Timeout bounds each message round trip. Zero means no bound.
	Timeout time.Duration
}

// Loop prints the welcome and relays messages until input ends, the user
// quits or ctx is done. A failed message is reported and the loop goes on.
func (c *Chat) Loop(ctx context.Context) error {
	fmt.Fprintf(c.Out, "%s: %s\n", Dietitian, c.Welcome)
	fmt.Fprintf(c.Out, "(type %s to start over, %s to leave)\n\n", CommandClear, CommandQuit)

	scanner := bufio.NewScanner(c.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprintf(c.Out, "%s: ", User)
		if !scanner.Scan() {
			fmt.Fprintln(c.Out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case CommandQuit, CommandExit:
			fmt.Fprintf(c.Out, "%s: Goodbye, take care!\n", Dietitian)
			return nil
		case CommandClear:
			if err := c.Backend.Clear(ctx); err != nil {
				c.report(err)
				continue
			}
			fmt.Fprintf(c.Out, "%s: Conversation cleared. Tell me about your health goals!\n\n", Dietitian)
			continue
		}

		c.send(ctx, line)
	}
}

func (c *Chat) send(ctx context.Context, line string) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	fmt.Fprintf(c.Out, "%s: ", Dietitian)

	var onDelta func(string)
	streamed := false
	if c.Stream {
		onDelta = func(delta string) {
			streamed = true
			fmt.Fprint(c.Out, delta)
		}
	}

	reply, err := c.Backend.Send(ctx, line, onDelta)
	if err != nil {
		if streamed {
			fmt.Fprintln(c.Out)
		}
		c.report(err)
		return
	}
	if !streamed {
		fmt.Fprint(c.Out, reply)
	}
	fmt.Fprint(c.Out, "\n\n")
}

func (c *Chat) report(err error) {
	fmt.Fprintf(c.Out, "Error: %s\n\n", Describe(err))
}

// Describe renders err for the user without internal detail.
func Describe(err error) string {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}
	return diet.PublicMessage(diet.KindOf(err))
}
