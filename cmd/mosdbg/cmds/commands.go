package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/llvm-mos/mosdbg/cmd/mosdbg/cmds/helphelpers"
	"github.com/llvm-mos/mosdbg/pkg/config"
	"github.com/llvm-mos/mosdbg/pkg/logflags"
	"github.com/llvm-mos/mosdbg/pkg/proc"
	"github.com/llvm-mos/mosdbg/pkg/proc/gdbserial"
	"github.com/llvm-mos/mosdbg/pkg/terminal"
	"github.com/llvm-mos/mosdbg/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// triple is the target triple of the debugged program.
	triple string
	// dialTimeout is how long connect keeps retrying to reach the stub.
	dialTimeout time.Duration
	// listRegisters makes the symbols command print the full register table.
	listRegisters bool
	// verbose makes the version command print build details.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const mosdbgCommandLongDesc = `mosdbg is a register level debugger for programs built with the llvm-mos
toolchain.

mosdbg connects to a 6502 emulator or monitor speaking the GDB remote serial
protocol and exposes, next to the hardware registers A, X, Y, S, P and PC, the
imaginary registers rc0-rc255 and rs0-rs127 the compiler keeps in zero page.
Their addresses are discovered from the __rcN symbols of the executable.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using default configuration\n", err)
		conf = &config.Config{}
	}

	// Main mosdbg root command.
	rootCommand = &cobra.Command{
		Use:           "mosdbg",
		Short:         "mosdbg is a debugger for llvm-mos programs.",
		Long:          mosdbgCommandLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugger logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'mosdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'mosdbg help log').")
	rootCommand.PersistentFlags().StringVar(&triple, "triple", proc.MOSArchName, "Target triple of the debugged program.")

	// 'connect' subcommand.
	connectCommand := &cobra.Command{
		Use:   "connect [addr] <executable>...",
		Short: "Connect to a gdb remote stub and begin debugging.",
		Long: `Connect to a 6502 emulator or monitor speaking the GDB remote serial protocol.

The address has the form host:port. It can be omitted if stub-address is set in
the configuration file. The executables are scanned for the __rcN symbols that
locate the imaginary registers, the first executable defining a symbol wins.`,
		RunE: connectCmd,
	}
	connectCommand.Flags().DurationVar(&dialTimeout, "timeout", 5*time.Second, "How long to keep trying to reach the stub.")
	rootCommand.AddCommand(connectCommand)

	// 'symbols' subcommand.
	symbolsCommand := &cobra.Command{
		Use:   "symbols <executable>...",
		Short: "Print the imaginary registers of executables.",
		Long: `Print the imaginary registers defined by the __rcN symbols of the executables,
without connecting to a program.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a path to an executable")
			}
			return nil
		},
		RunE: symbolsCmd,
	}
	symbolsCommand.Flags().BoolVarP(&listRegisters, "registers", "r", false, "Print the complete register table.")
	rootCommand.AddCommand(symbolsCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mosdbg\n%s\n", version.MosdbgVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debugger	Log debugger commands
	gdbwire		Log connection to the gdb remote stub
	reg		Log register reads and writes
	sym		Log imaginary register symbol discovery
	abi		Log imaginary register fallback decisions

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.DisableAutoGenTag = true

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	return rootCommand
}

// splitConnectArgs separates the stub address from the executables.
func splitConnectArgs(args []string, defaultAddr string) (addr string, binaries []string, err error) {
	if len(args) > 0 && strings.Contains(args[0], ":") {
		return args[0], args[1:], nil
	}
	if defaultAddr == "" {
		return "", nil, errors.New("you must provide the address of the stub or set stub-address in the configuration file")
	}
	return defaultAddr, args, nil
}

func connectCmd(cmd *cobra.Command, args []string) error {
	addr, binaries, err := splitConnectArgs(args, conf.StubAddress)
	if err != nil {
		return err
	}
	status := execute(addr, binaries, conf)
	if status != 0 {
		os.Exit(status)
	}
	return nil
}

func execute(addr string, binaries []string, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	p := gdbserial.New()
	if err := p.Dial(addr, dialTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	tgt, err := newTarget(p, p, binaries, conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		p.Detach(false)
		return 1
	}

	term := terminal.New(tgt, p, conf)
	status, err := term.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return status
}

// newTarget returns a target for p with the modules loaded from binaries.
// p and hw may be nil for a target without a process.
func newTarget(p proc.Process, hw proc.HardwareRegisterAccess, binaries []string, conf *config.Config) (*proc.Target, error) {
	arch, ok := proc.NewArch(triple)
	if !ok {
		return nil, fmt.Errorf("unsupported target triple %q", triple)
	}
	fpSlot := conf.FPSlot()
	tgt, err := proc.NewTarget(arch, p, hw, proc.NewTargetConfig{
		ImaginarySymbolPrefix: conf.SymbolPrefix(),
		FramePointerSlot:      &fpSlot,
	})
	if err != nil {
		return nil, err
	}
	for _, path := range binaries {
		image, err := proc.LoadBinary(path)
		if err != nil {
			return nil, err
		}
		if image.Machine != proc.EM_MOS {
			fmt.Fprintf(os.Stderr, "Warning: %s is not a MOS executable (machine %v)\n", path, image.Machine)
		}
		tgt.AddModule(image)
	}
	return tgt, nil
}

func symbolsCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	tgt, err := newTarget(nil, nil, args, conf)
	if err != nil {
		return err
	}
	return printSymbols(cmd.OutOrStdout(), tgt, listRegisters)
}

// printSymbols writes the imaginary registers of tgt to out, or its whole
// register table if registers is set.
func printSymbols(out io.Writer, tgt *proc.Target, registers bool) error {
	table := tgt.RegisterTable()
	dir := table.Directory()
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)

	if registers {
		fmt.Fprintln(w, "Name\tAlt\tSize\tOffset\tDWARF\tRemote\tRole\tLocation")
		for _, reg := range table.Registers() {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%d\t%s\t%s\n", reg.Name, orDash(reg.AltName), reg.Size, reg.Offset, dwarfNumber(reg.Kinds.DWARF), reg.Kinds.Remote, orDash(reg.Kinds.Generic.String()), location(dir, &reg))
		}
		return w.Flush()
	}

	if dir.Fallback() {
		fmt.Fprintln(out, "No imaginary registers found.")
		return nil
	}
	for _, bs := range dir.ByteSlots() {
		fmt.Fprintf(w, "rc%d\t0x%04x\n", bs.Index, bs.Addr)
	}
	for _, ws := range dir.WordSlots() {
		fmt.Fprintf(w, "rs%d\t0x%04x:0x%04x\n", ws.Index, ws.Lo, ws.Hi)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func dwarfNumber(n uint32) string {
	if n == proc.InvalidRegnum {
		return "-"
	}
	return fmt.Sprint(n)
}

func location(dir *proc.Directory, reg *proc.RegisterInfo) string {
	switch reg.Backing {
	case proc.BackingVirtualByte:
		if bs, ok := dir.ByteSlot(reg.Slot); ok {
			return fmt.Sprintf("0x%04x", bs.Addr)
		}
	case proc.BackingVirtualWord:
		if ws, ok := dir.WordSlot(reg.Slot); ok {
			return fmt.Sprintf("0x%04x:0x%04x", ws.Lo, ws.Hi)
		}
	}
	return "cpu"
}
