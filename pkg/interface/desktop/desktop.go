package desktop

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"voice-session/internal/audio/devices"
	"voice-session/internal/controller"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingArg     = errors.New("missing argument")
)

const menu = `Commands:
  voice <id>      select a voice now
  name <text>     set the assistant name (sent on apply)
  prompt <text>   set the system prompt (sent on apply)
  apply           send name, prompt and drafted voice
  output <id>     play through another device
  devices         list output devices
  voices          list voices shared by the agent
  connect         join the room
  disconnect      leave the room
  quit            exit`

// Command is one parsed input line.
type Command struct {
	Name string
	Arg  string
}

var takesArg = map[string]bool{
	"voice":  true,
	"name":   true,
	"prompt": true,
	"output": true,
}

var bare = map[string]bool{
	"apply":      true,
	"devices":    true,
	"voices":     true,
	"connect":    true,
	"disconnect": true,
	"quit":       true,
	"help":       true,
}

// ParseCommand splits a line into a command and the rest of the line as
// its argument.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	name, arg, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)

	switch {
	case name == "exit":
		return Command{Name: "quit"}, nil
	case takesArg[name]:
		if arg == "" {
			return Command{}, fmt.Errorf("%s: %w", name, ErrMissingArg)
		}
		return Command{Name: name, Arg: arg}, nil
	case bare[name]:
		return Command{Name: name}, nil
	default:
		return Command{}, fmt.Errorf("%q: %w", name, ErrUnknownCommand)
	}
}

// Actions is what the terminal can ask of the session.
type Actions interface {
	Connect(ctx context.Context) error
	Disconnect()
	SetAssistantName(name string)
	SetPrompt(prompt string)
	SetVoiceDraft(id string)
	ApplyChanges(ctx context.Context) error
	SelectVoice(ctx context.Context, id string) error
	SelectOutput(ctx context.Context, id string) error
	Outputs() []devices.Descriptor
	View() controller.View
}

type DesktopInterface struct {
	actions Actions
	out     io.Writer
	tick    time.Duration
}

func NewDesktopInterface(actions Actions, out io.Writer, tick time.Duration) (*DesktopInterface, error) {
	if actions == nil || out == nil {
		return nil, fmt.Errorf("desktop interface: actions and output are required")
	}
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	return &DesktopInterface{actions: actions, out: out, tick: tick}, nil
}

// Execute runs one command. It reports whether the loop should stop.
func (di *DesktopInterface) Execute(ctx context.Context, cmd Command) (bool, error) {
	switch cmd.Name {
	case "voice":
		di.actions.SetVoiceDraft(cmd.Arg)
		return false, di.actions.SelectVoice(ctx, cmd.Arg)
	case "name":
		di.actions.SetAssistantName(cmd.Arg)
	case "prompt":
		di.actions.SetPrompt(cmd.Arg)
	case "apply":
		return false, di.actions.ApplyChanges(ctx)
	case "output":
		return false, di.actions.SelectOutput(ctx, cmd.Arg)
	case "devices":
		v := di.actions.View()
		PrintDevices(di.out, di.actions.Outputs(), v.SelectedOutput)
	case "voices":
		v := di.actions.View()
		PrintVoices(di.out, v.Voices, v.SelectedVoice)
		PrintSettings(di.out, v)
	case "connect":
		go func() {
			if err := di.actions.Connect(ctx); err != nil {
				log.Warn().Err(err).Msg("Connect failed")
			}
		}()
	case "disconnect":
		di.actions.Disconnect()
	case "help":
		fmt.Fprintln(di.out, menu)
	case "quit":
		return true, nil
	}
	return false, nil
}

// StartDesktopInterface reads commands from in until quit, EOF or ctx is
// done, redrawing the status line on every tick.
func (di *DesktopInterface) StartDesktopInterface(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(di.out, HeaderStyle.Render("Voice session"))
	fmt.Fprintln(di.out, menu)

	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
	}()

	ticker := time.NewTicker(di.tick)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			status := StatusLine(di.actions.View())
			if status != last {
				fmt.Fprintf(di.out, "\r\033[K%s", status)
				last = status
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			last = ""
			fmt.Fprintln(di.out)
			if strings.TrimSpace(line) == "" {
				continue
			}
			cmd, err := ParseCommand(line)
			if err != nil {
				fmt.Fprintln(di.out, ErrorStyle.Render(err.Error()))
				continue
			}
			quit, err := di.Execute(ctx, cmd)
			if err != nil {
				fmt.Fprintln(di.out, ErrorStyle.Render(err.Error()))
			}
			if quit {
				fmt.Fprintln(di.out, "Exiting...")
				return nil
			}
		}
	}
}
