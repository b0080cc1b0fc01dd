package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"

	"github.com/llvm-mos/mosdbg/pkg/config"
	"github.com/llvm-mos/mosdbg/pkg/logflags"
	"github.com/llvm-mos/mosdbg/pkg/proc"
	"github.com/llvm-mos/mosdbg/pkg/proc/gdbserial"
)

const historyFile string = ".mosdbg_history"

// Client controls the execution of the debugged process.
// *gdbserial.Process implements it.
type Client interface {
	Continue() (gdbserial.StopInfo, error)
	Step() (gdbserial.StopInfo, error)
	RequestManualStop() error
	Detach(kill bool) error
}

// Term represents the terminal running mosdbg.
type Term struct {
	target *proc.Target
	client Client
	conf   *config.Config
	prompt string
	line   *liner.State
	cmds   *Commands
	dumb   bool
	colors bool
	stdout io.Writer

	// lastRegs holds the hardware register values printed by the last
	// regs command, used to highlight changes.
	lastRegs map[string]uint64

	completions     *trie.Trie
	completionRegs  int
	killOnExit      bool
	detachRequested bool

	quittingMutex sync.Mutex
	quitting      bool
}

// New returns a new Term for target, execution control goes through client.
func New(target *proc.Target, client Client, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	t := &Term{
		target:   target,
		client:   client,
		conf:     conf,
		prompt:   "(mosdbg) ",
		cmds:     cmds,
		dumb:     dumb,
		colors:   !dumb && colorEnabled(conf.Color),
		stdout:   w,
		lastRegs: map[string]uint64{},
	}
	if target != nil {
		target.SetDiagnosticHandler(func(msg string) {
			fmt.Fprintf(t.stdout, "warning: %s\n", msg)
		})
	}
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		fmt.Printf("received SIGINT, stopping process (will not forward signal)\n")
		if err := t.client.RequestManualStop(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
}

// Run begins running mosdbg in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	// Send the stub a halt request on SIGINT
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Println("Type 'help' for list of commands.")

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			var exited proc.ErrProcessExited
			if errors.As(err, &exited) {
				fmt.Fprintln(os.Stderr, err.Error())
				continue
			}
			t.quittingMutex.Lock()
			quitting := t.quitting
			t.quittingMutex.Unlock()
			if quitting {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Call runs a single command line, as if it had been typed at the prompt.
func (t *Term) Call(cmdstr string) error {
	return t.cmds.Call(cmdstr, t)
}

// SetOutput redirects the output of commands to w, disabling colors.
func (t *Term) SetOutput(w io.Writer) {
	t.stdout = w
	t.colors = false
}

// complete returns the completions for line: command names for the first
// word, register names for the following words.
func (t *Term) complete(line string) []string {
	words := strings.SplitN(line, " ", 2)
	if len(words) == 1 {
		var c []string
		for _, cmd := range t.cmds.cmds {
			for _, alias := range cmd.aliases {
				if strings.HasPrefix(alias, strings.ToLower(line)) {
					c = append(c, alias)
				}
			}
		}
		return c
	}
	prefix, arg := words[0]+" ", words[1]
	if i := strings.LastIndex(arg, " "); i >= 0 {
		prefix += arg[:i+1]
		arg = arg[i+1:]
	}
	var c []string
	for _, name := range t.registerNames().PrefixSearch(strings.ToLower(arg)) {
		c = append(c, prefix+name)
	}
	return c
}

// registerNames returns a trie of the names of all registers of the
// target, rebuilt whenever the register table grows.
func (t *Term) registerNames() *trie.Trie {
	if t.target == nil {
		return trie.New()
	}
	table := t.target.RegisterTable()
	if t.completions != nil && t.completionRegs == table.Len() {
		return t.completions
	}
	names := trie.New()
	for _, reg := range table.Registers() {
		if _, ok := names.Find(reg.Name); !ok {
			names.Add(reg.Name, nil)
		}
		if reg.AltName == "" {
			continue
		}
		if _, ok := names.Find(reg.AltName); !ok {
			names.Add(reg.AltName, nil)
		}
	}
	t.completions, t.completionRegs = names, table.Len()
	logflags.DebuggerLogger().Debugf("completion table rebuilt with %d registers", table.Len())
	return names
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func yesno(line *liner.State, question string) (bool, error) {
	for {
		answer, err := line.Prompt(question)
		if err != nil {
			return false, err
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		switch answer {
		case "n", "no":
			return false, nil
		case "y", "yes":
			return true, nil
		}
	}
}

func (t *Term) handleExit() (int, error) {
	if t.line != nil {
		fullHistoryFile, err := config.GetConfigFilePath(historyFile)
		if err != nil {
			fmt.Println("Error saving history file:", err)
		} else {
			if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
				_, err = t.line.WriteHistory(f)
				if err != nil {
					fmt.Println("readline history error:", err)
				}
				f.Close()
			}
		}
	}

	t.quittingMutex.Lock()
	quitting := t.quitting
	t.quittingMutex.Unlock()
	if quitting {
		return 0, nil
	}

	if t.target == nil || !t.target.Process().IsAlive() {
		return 0, nil
	}
	kill := t.killOnExit
	if !kill && !t.detachRequested && t.line != nil {
		answer, err := yesno(t.line, "Would you like to kill the process? [y/n] ")
		if err != nil {
			return 2, io.EOF
		}
		kill = answer
	}
	if err := t.client.Detach(kill); err != nil {
		return 1, err
	}
	return 0, nil
}
