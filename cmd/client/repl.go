package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/omochice/chat-session/internal/client"
	"github.com/omochice/chat-session/internal/session"
	"github.com/omochice/chat-session/internal/view"
	"github.com/omochice/chat-session/pkg/protocol"
)

type commandKind int

const (
	cmdSay commandKind = iota
	cmdWhisper
	cmdTyping
	cmdUsers
	cmdQuit
)

type command struct {
	kind   commandKind
	to     string
	text   string
	typing bool
}

// parseLine turns one input line into a command. Lines not starting with a
// slash are said to the room.
func parseLine(line string) (command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdSay, text: line}, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/w", "/whisper":
		if len(fields) < 3 {
			return command{}, errors.New("usage: /w <user-id> <text>")
		}
		text := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
		text = strings.TrimSpace(strings.TrimPrefix(text, fields[1]))
		return command{kind: cmdWhisper, to: fields[1], text: text}, nil
	case "/typing":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return command{}, errors.New("usage: /typing on|off")
		}
		return command{kind: cmdTyping, typing: fields[1] == "on"}, nil
	case "/users":
		return command{kind: cmdUsers}, nil
	case "/quit", "/exit":
		return command{kind: cmdQuit}, nil
	default:
		return command{}, errors.Errorf("unknown command %s", fields[0])
	}
}

// repl reads commands until input ends, /quit, or ctx is done.
func repl(ctx context.Context, c client.Session, in io.Reader, r *renderer, prompt bool) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	for {
		if prompt {
			r.prompt()
		}
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errors.Wrap(<-readErr, "read input")
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			cmd, err := parseLine(line)
			if err != nil {
				r.printf("%s\n", err)
				continue
			}
			if cmd.kind == cmdQuit {
				return nil
			}
			execute(c, cmd, r)
		}
	}
}

func execute(c client.Session, cmd command, r *renderer) {
	if cmd.kind != cmdUsers && !c.IsConnected() {
		r.printf("not connected, dropped\n")
	}
	switch cmd.kind {
	case cmdSay:
		c.SendMessage(cmd.text)
	case cmdWhisper:
		c.SendPrivateMessage(cmd.to, cmd.text)
	case cmdTyping:
		c.SetTyping(cmd.typing)
	case cmdUsers:
		r.users(c.Snapshot())
	}
}

// renderer prints view changes. Its methods run on the session's delivery
// goroutine and on the REPL goroutine.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	session client.Session
	printed int
	typing  string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

func (r *renderer) bind(s client.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = s
}

func (r *renderer) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *renderer) prompt() {
	r.printf("> ")
}

func (r *renderer) state(_, to session.State) {
	switch to {
	case session.StateConnected:
		r.printf("*** connected ***\n")
	case session.StateConnecting:
		r.printf("*** connecting ***\n")
	case session.StateDisconnected:
		r.printf("*** disconnected ***\n")
	case session.StateFailed:
		r.printf("*** could not reach the server, giving up ***\n")
	}
}

// refresh prints messages not printed yet and the typing line when it
// changed.
func (r *renderer) refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return
	}
	snap := r.session.Snapshot()
	for _, msg := range snap.Messages[r.printed:] {
		fmt.Fprintln(r.out, formatMessage(msg))
	}
	r.printed = len(snap.Messages)

	if typing := formatTyping(snap); typing != r.typing {
		r.typing = typing
		if typing != "" {
			fmt.Fprintln(r.out, typing)
		}
	}
}

func (r *renderer) users(snap view.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := snap.UserList()
	fmt.Fprintf(r.out, "%d online\n", len(list))
	for _, u := range list {
		fmt.Fprintf(r.out, "  %s (%s)\n", u.Username, u.ID)
	}
}

func formatMessage(msg protocol.ChatMessage) string {
	if msg.System {
		return fmt.Sprintf("*** %s ***", msg.Message)
	}
	stamp := msg.Timestamp
	if t, err := time.Parse(view.TimestampLayout, msg.Timestamp); err == nil {
		stamp = t.Local().Format("15:04:05")
	}
	if msg.Private {
		return fmt.Sprintf("[%s] (private) %s: %s", stamp, msg.Username, msg.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", stamp, msg.Username, msg.Message)
}

func formatTyping(snap view.Snapshot) string {
	if len(snap.TypingUsers) == 0 {
		return ""
	}
	names := make([]string, 0, len(snap.TypingUsers))
	for _, id := range snap.TypingUsers {
		name := id
		if u, ok := snap.Users[id]; ok && u.Username != "" {
			name = u.Username
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("... %s typing", strings.Join(names, ", "))
}
