// Package debugcli is an operator REPL for inspecting and intervening on
// runs without going through the HTTP surface: select a run, tail its
// activity log from a cursor, force-cancel it, or diff two completed runs'
// final content.
package debugcli

import (
	"context"
	"fmt"
	"io"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/replicatedhq/chartsmith/pkg/diff"
	"github.com/replicatedhq/chartsmith/pkg/domain"
	"github.com/replicatedhq/chartsmith/pkg/runmanager"
	"github.com/replicatedhq/chartsmith/pkg/store"
)

var (
	boldBlue   = color.New(color.FgBlue, color.Bold).SprintFunc()
	boldGreen  = color.New(color.FgGreen, color.Bold).SprintFunc()
	boldRed    = color.New(color.FgRed, color.Bold).SprintFunc()
	boldYellow = color.New(color.FgYellow, color.Bold).SprintFunc()
	dimText    = color.New(color.Faint).SprintFunc()
)

type Console struct {
	ctx       context.Context
	manager   *runmanager.Manager
	activeRun *domain.Run
	readline  *readline.Instance
}

// RunConsole starts the interactive debug console. Postgres must already
// be initialized via store.InitPostgres before this is called.
func RunConsole(ctx context.Context, manager *runmanager.Manager) error {
	console := &Console{ctx: ctx, manager: manager}
	if err := console.run(); err != nil {
		return errors.Wrap(err, "console error")
	}
	return nil
}

func (c *Console) run() error {
	fmt.Println(boldBlue("Agentic Run Debug Console"))
	fmt.Println(dimText("Type 'help' for available commands, 'exit' to quit"))
	fmt.Println(dimText("Use '/run <id>' to select a run"))
	fmt.Println()

	var historyFile string
	if usr, err := user.Current(); err == nil {
		historyFile = filepath.Join(usr.HomeDir, ".agentic_debugcli_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 boldYellow("[NO RUN]> "),
		HistoryFile:            historyFile,
		InterruptPrompt:        "^C",
		EOFPrompt:              "exit",
		HistorySearchFold:      true,
		DisableAutoSaveHistory: false,
		HistoryLimit:           1000,
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("/run"),
			readline.PcItem("/help"),
			readline.PcItem("help"),
			readline.PcItem("tail"),
			readline.PcItem("cancel"),
			readline.PcItem("diff"),
			readline.PcItem("exit"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return errors.Wrap(err, "failed to initialize readline")
	}
	defer rl.Close()
	c.readline = rl

	for {
		if c.activeRun != nil {
			rl.SetPrompt(boldGreen(fmt.Sprintf("run[%s]> ", c.activeRun.ID)))
		} else {
			rl.SetPrompt(boldYellow("[NO RUN]> "))
		}

		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				fmt.Println("^C")
				continue
			} else if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "failed to read input")
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		if strings.HasPrefix(input, "/") {
			parts := strings.Fields(input)
			cmdName := parts[0][1:]
			args := parts[1:]

			switch cmdName {
			case "run":
				if len(args) != 1 {
					fmt.Println(boldRed("Error: usage '/run <id>'"))
					continue
				}
				if err := c.selectRun(args[0]); err != nil {
					fmt.Println(boldRed("Error:"), err)
				}
			case "help":
				c.showHelp()
			default:
				fmt.Printf(boldRed("Error: Unknown command '/%s'\n"), cmdName)
			}
			continue
		}

		parts := strings.Fields(input)
		if err := c.executeCommand(parts[0], parts[1:]); err != nil {
			fmt.Println(boldRed("Error:"), err)
		}
	}
}

func (c *Console) executeCommand(cmd string, args []string) error {
	if c.activeRun == nil && cmd != "help" {
		return errors.New("no run selected. Use '/run <id>' to select one")
	}

	switch cmd {
	case "help":
		c.showHelp()
	case "tail":
		return c.tailActivities(args)
	case "cancel":
		return c.cancelRun()
	case "diff":
		return c.diffRuns(args)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

func (c *Console) selectRun(id string) error {
	run, err := store.GetRun(c.ctx, id)
	if err != nil {
		return errors.Wrapf(err, "failed to get run %s", id)
	}
	c.activeRun = run
	fmt.Printf(boldGreen("Selected run: %s (status: %s, mode: %s)\n"), run.ID, run.Status, run.Mode)
	return nil
}

func (c *Console) showHelp() {
	fmt.Println(boldBlue("Slash Commands:"))
	fmt.Println("  " + boldGreen("/run") + " <id>        Select a run by id")
	fmt.Println("  " + boldGreen("/help") + "             Show this help")
	fmt.Println()
	fmt.Println(boldBlue("Run Commands:"))
	fmt.Println("  " + boldGreen("tail") + " [sinceSeq]   Print activities for the selected run since a cursor")
	fmt.Println("  " + boldGreen("cancel") + "            Force-cancel the selected run")
	fmt.Println("  " + boldGreen("diff") + " <otherRunId>  Unified diff of finalContent against another run")
	fmt.Println()
	fmt.Println(boldBlue("General Commands:"))
	fmt.Println("  " + boldGreen("help") + "              Show this help")
	fmt.Println("  " + boldGreen("exit") + " / " + boldGreen("quit") + "        Exit the console")
	fmt.Println()
}

func (c *Console) tailActivities(args []string) error {
	var sinceSeq int64
	if len(args) == 1 {
		parsed, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.New("sinceSeq must be an integer")
		}
		sinceSeq = parsed
	}

	activities, err := store.ListActivitiesSince(c.ctx, c.activeRun.ID, sinceSeq, 0)
	if err != nil {
		return errors.Wrap(err, "failed to list activities")
	}

	if len(activities) == 0 {
		fmt.Println(dimText("No activities since seq " + strconv.FormatInt(sinceSeq, 10)))
		return nil
	}

	for _, a := range activities {
		fmt.Printf("%s %s %s\n", boldBlue(fmt.Sprintf("#%d", a.Seq)), a.Kind, dimText(a.Timestamp.Format("15:04:05")))
	}
	return nil
}

func (c *Console) cancelRun() error {
	c.manager.Cancel(c.activeRun.ID)
	fmt.Println(boldGreen("Cancel signal sent for run " + c.activeRun.ID))
	return nil
}

func (c *Console) diffRuns(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: diff <otherRunId>")
	}

	other, err := store.GetRun(c.ctx, args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to get run %s", args[0])
	}

	patch, err := diff.GeneratePatch(c.activeRun.FinalContent, other.FinalContent,
		fmt.Sprintf("%s vs %s", c.activeRun.ID, other.ID))
	if err != nil {
		return errors.Wrap(err, "failed to generate diff")
	}

	if added, removed, err := diff.Stat(patch); err == nil {
		fmt.Println(boldBlue(fmt.Sprintf("+%d -%d", added, removed)))
	}
	fmt.Println(patch)
	return nil
}
