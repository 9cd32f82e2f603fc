package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tasksync/client"
	"tasksync/domain"
)

const watchHelp = `commands: search <text> | status <S> | priority <P> | clear | save <name> | load <name> | presets | quit`

func watchCmd(opts *options) *cobra.Command {
	var f domain.Filter
	var preset string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show a live task list that follows changes from other clients",
		Long: `Show a live task list. Filters can be changed interactively on stdin:

  ` + watchHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, f, preset, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	filterFlags(cmd, &f)
	cmd.Flags().StringVar(&preset, "preset", "", "start from a saved preset")
	return cmd
}

func runWatch(ctx context.Context, opts *options, initial domain.Filter, preset string, in io.Reader, w io.Writer) error {
	out := &consoleWriter{w: w}
	kv, err := client.OpenSQLiteKV(ctx, opts.statePath)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer kv.Close()
	presets := client.NewPresetStore(kv)

	api := opts.client()
	ctrl := client.NewQueryController(api, client.WithOnChange(func(s client.State) {
		render(out, s)
	}))
	pushURL, err := api.PushURL()
	if err != nil {
		return fmt.Errorf("push url: %w", err)
	}
	listener := client.NewChangeListener(pushURL, api.AuthHeader(), ctrl, client.WithStateHook(func(s client.ConnState) {
		log.WithField("state", s).Info("push channel")
	}))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ctrl.Run(ctx)

	panel := client.NewFilterPanel(ctrl, presets, client.DefaultDebounce)
	defer panel.Close()
	if preset == "" {
		panel.Apply(initial)
	} else {
		ok, err := panel.LoadPreset(ctx, preset)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no preset named %q", preset)
		}
	}
	go listener.Run(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}
			if quit := handleWatchLine(ctx, panel, presets, line, out); quit {
				return nil
			}
		}
	}
}

func handleWatchLine(ctx context.Context, panel *client.FilterPanel, presets *client.PresetStore, line string, out *consoleWriter) bool {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch verb {
	case "":
	case "search":
		panel.SetSearch(arg)
	case "status":
		panel.SetStatus(domain.Status(strings.ToUpper(arg)))
	case "priority":
		panel.SetPriority(domain.Priority(strings.ToUpper(arg)))
	case "clear":
		panel.Clear()
	case "save":
		if err := panel.SavePreset(ctx, arg); err != nil {
			out.Printf("save preset: %v\n", err)
		}
	case "load":
		if ok, err := panel.LoadPreset(ctx, arg); err != nil || !ok {
			out.Printf("no preset named %q\n", arg)
		}
	case "presets":
		list, err := presets.List(ctx)
		if err != nil {
			out.Printf("list presets: %v\n", err)
			break
		}
		out.Block(func(w io.Writer) { printPresets(w, list) })
	case "quit", "exit":
		return true
	default:
		out.Printf("%s\n", watchHelp)
	}
	return false
}

func render(out *consoleWriter, s client.State) {
	if s.Loading {
		return
	}
	out.Block(func(w io.Writer) {
		fmt.Fprintf(w, "\n-- %d task(s) [search=%q status=%s priority=%s]\n",
			len(s.Tasks), s.Filters.Search, orAny(string(s.Filters.Status)), orAny(string(s.Filters.Priority)))
		printTasks(w, s.Tasks)
	})
}

// consoleWriter serializes output from the controller goroutine and the
// stdin loop. Block keeps a multi-line listing together.
type consoleWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *consoleWriter) Block(fn func(io.Writer)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.w)
}

func (c *consoleWriter) Printf(format string, args ...any) {
	c.Block(func(w io.Writer) { fmt.Fprintf(w, format, args...) })
}

func orAny(v string) string {
	if v == "" {
		return "any"
	}
	return v
}
