// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/llvm-mos/mosdbg/pkg/proc"
)

type callContext struct {
	// Thread is the thread commands operate on, 0 selects the current one.
	Thread int
}

type cmdfunc func(t *Term, ctx callContext, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for mosdbg's terminal process.
type Commands struct {
	cmds   []command
	thread int // Thread selected by the thread command, 0 follows the stop thread.
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: c.cont, helpMsg: `Run until breakpoint or program termination.

	continue

Press Ctrl-C to stop the program.`},
		{aliases: []string{"step-instruction", "si"}, group: runCmds, cmdFn: c.stepInstruction, helpMsg: "Single step a single cpu instruction."},
		{aliases: []string{"halt"}, group: runCmds, cmdFn: halt, helpMsg: "Stops the program if it is running."},
		{aliases: []string{"regs"}, group: dataCmds, cmdFn: regs, helpMsg: `Print contents of CPU registers.

	regs [-a]

Prints the hardware registers followed by the registers currently acting as
stack pointer and frame pointer. With -a the imaginary registers rc and rs are
printed too. Values that changed since the last regs command are highlighted.`},
		{aliases: []string{"print", "p"}, group: dataCmds, cmdFn: printReg, helpMsg: `Print the value of a register.

	print <register>

The names "sp" and "fp" print the register currently acting as stack pointer
and frame pointer. The name "s" always prints the hardware stack pointer.`},
		{aliases: []string{"set"}, group: dataCmds, cmdFn: setReg, helpMsg: `Changes the value of a register.

	set <register> [=] <value>

The value can be given in decimal, hexadecimal (0x), octal (0o) or binary (0b).
A failed write of an rs register may leave its low byte changed.`},
		{aliases: []string{"examinemem", "x"}, group: dataCmds, cmdFn: examineMemoryCmd, helpMsg: `Examine raw memory at the given address.

Examine memory:

	examinemem [-fmt <format>] [-count|-len <count>] [-size <size>] <address>

Format represents the data format and the value is one of this list (default hex): bin(binary), oct(octal), dec(decimal), hex(hexadecimal).
Length is the number of bytes (default 1) and must be less than or equal to 1000.
Size is the size of each item, 1 or 2 bytes (default 1).
Address is a number or the name of a register holding the address.

For example:

    x -fmt hex -count 20 0x0200
    x -fmt dec -len 8 sp`},
		{aliases: []string{"imaginary", "imag"}, group: dataCmds, cmdFn: imaginary, helpMsg: `Lists the imaginary registers of the program.

	imaginary

Prints every rc and rs register with the address of its backing memory.`},
		{aliases: []string{"threads"}, group: threadCmds, cmdFn: threads, helpMsg: "Print out info for every traced thread."},
		{aliases: []string{"thread", "tr"}, group: threadCmds, cmdFn: c.threadCmd, helpMsg: `Switch to the specified thread.

	thread <id>`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.

	exit [-k|-d]

With -k the program is killed, with -d the debugger detaches and lets it run.
Otherwise you are asked what to do.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// An empty command does nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// CallWithContext takes a command and a context that command should be executed in.
func (c *Commands) CallWithContext(cmdstr string, t *Term, ctx callContext) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, ctx, args)
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	return c.CallWithContext(cmdstr, t, callContext{Thread: c.thread})
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, ctx callContext, args string) error {
	return noCmdError
}

func nullCommand(t *Term, ctx callContext, args string) error {
	return nil
}

func (c *Commands) help(t *Term, ctx callContext, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// registerContext returns the register context of the thread selected by ctx.
func (t *Term) registerContext(ctx callContext) (*proc.RegisterContext, error) {
	if t.target == nil {
		return nil, errors.New("no target")
	}
	tid := ctx.Thread
	if tid == 0 {
		var err error
		tid, err = t.target.CurrentThread()
		if err != nil {
			return nil, err
		}
	}
	return t.target.RegisterContext(tid), nil
}

// readRegister reads the register called name. The exact name of a
// hardware register reads the CPU register, any other name goes through
// role routing, so that "sp" reads the soft stack pointer.
func readRegister(rctx *proc.RegisterContext, name string) (*proc.RegisterInfo, []byte, error) {
	reg, err := rctx.Register(name)
	if err != nil {
		return nil, nil, err
	}
	var buf []byte
	if reg.Backing == proc.BackingHardware && strings.EqualFold(reg.Name, name) {
		buf, err = rctx.ReadHardwareRegister(reg)
	} else {
		buf, err = rctx.ReadRegister(reg)
	}
	return reg, buf, err
}

func writeRegister(rctx *proc.RegisterContext, reg *proc.RegisterInfo, name string, value []byte) error {
	if reg.Backing == proc.BackingHardware && strings.EqualFold(reg.Name, name) {
		return rctx.WriteHardwareRegister(reg, value)
	}
	return rctx.WriteRegister(reg, value)
}

func leUint(buf []byte) uint64 {
	var v uint64
	for i := len(buf) - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

func leBytes(v uint64, size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	return buf
}

func formatRegValue(buf []byte) string {
	return fmt.Sprintf("0x%0*x", 2*len(buf), leUint(buf))
}

const statusFlags = "nv-bdizc"

// formatStatus decodes the P register, set flags are upper case.
func formatStatus(p byte) string {
	var b strings.Builder
	for i := 0; i < 8; i++ {
		c := statusFlags[i]
		if p&(0x80>>uint(i)) != 0 && c != '-' {
			c -= 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (t *Term) colorizeChange(name string, buf []byte, s string) string {
	v := leUint(buf)
	old, seen := t.lastRegs[name]
	t.lastRegs[name] = v
	if seen && old != v {
		return t.highlight(ansiYellow, s)
	}
	return s
}

func regs(t *Term, ctx callContext, args string) error {
	all := false
	switch args {
	case "":
	case "-a":
		all = true
	default:
		return fmt.Errorf("unknown option %q", args)
	}
	rctx, err := t.registerContext(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(t.stdout, 0, 8, 1, ' ', tabwriter.AlignRight)
	table := rctx.Table()
	for i := 0; i < table.Len(); i++ {
		reg := table.At(i)
		if reg.Backing != proc.BackingHardware {
			continue
		}
		buf, err := rctx.ReadHardwareRegister(reg)
		if err != nil {
			return err
		}
		s := t.colorizeChange(reg.Name, buf, formatRegValue(buf))
		if reg.Kinds.Generic == proc.GenericFlags && len(buf) > 0 {
			s += " [" + formatStatus(buf[0]) + "]"
		}
		fmt.Fprintf(w, "%s\t = %s\n", reg.Name, s)
	}

	for _, role := range []proc.GenericRegister{proc.GenericSP, proc.GenericFP} {
		buf, err := rctx.ReadGeneric(role)
		var unsupported proc.ErrUnsupportedRegister
		switch {
		case errors.As(err, &unsupported):
			fmt.Fprintf(w, "%s\t = <unavailable>\n", role)
			continue
		case err != nil:
			return err
		}
		fmt.Fprintf(w, "%s\t = %s (%s)\n", role, t.colorizeChange(role.String(), buf, formatRegValue(buf)), roleBacking(rctx, role))
	}

	if all {
		for i := 0; i < table.Len(); i++ {
			reg := table.At(i)
			if reg.Backing == proc.BackingHardware {
				continue
			}
			buf, err := rctx.ReadRegister(reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t = %s\n", reg.Name, t.colorizeChange(reg.Name, buf, formatRegValue(buf)))
		}
	}
	return w.Flush()
}

// roleBacking names the register that currently plays role.
func roleBacking(rctx *proc.RegisterContext, role proc.GenericRegister) string {
	table := rctx.Table()
	if role == proc.GenericSP {
		if dir := table.Directory(); dir != nil && !dir.Fallback() {
			if _, ok := dir.WordSlot(proc.SoftStackPointerSlot); ok {
				return fmt.Sprintf("rs%d", proc.SoftStackPointerSlot)
			}
		}
	}
	if reg := table.ByGeneric(role); reg != nil {
		return reg.Name
	}
	return "?"
}

func printReg(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("not enough arguments")
	}
	rctx, err := t.registerContext(ctx)
	if err != nil {
		return err
	}
	_, buf, err := readRegister(rctx, args)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s = %s (%d)\n", args, formatRegValue(buf), leUint(buf))
	return nil
}

func setReg(t *Term, ctx callContext, args string) error {
	v := strings.Fields(strings.Replace(args, "=", " ", 1))
	if len(v) != 2 {
		return fmt.Errorf("wrong number of arguments to \"set\"")
	}
	name := v[0]
	value, err := strconv.ParseUint(v[1], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %v", v[1], err)
	}
	rctx, err := t.registerContext(ctx)
	if err != nil {
		return err
	}
	reg, err := rctx.Register(name)
	if err != nil {
		return err
	}
	size := reg.Size
	if !strings.EqualFold(reg.Name, name) && (reg.Kinds.Generic == proc.GenericSP || reg.Kinds.Generic == proc.GenericFP) {
		// Role names may be routed to a word register.
		size = 2
	}
	if value >= 1<<(8*uint(size)) {
		return fmt.Errorf("value %#x does not fit in %d bit register %s", value, 8*size, name)
	}
	return writeRegister(rctx, reg, name, leBytes(value, size))
}

func examineMemoryCmd(t *Term, ctx callContext, args string) error {
	v := strings.FieldsFunc(args, func(c rune) bool {
		return c == ' '
	})

	var (
		address  uint64
		haveAddr bool
		err      error
		ok       bool
	)

	// Default value
	priFmt := byte('x')
	count := 1
	size := 1

	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-fmt":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -fmt")
			}
			fmtMapToPriFmt := map[string]byte{
				"oct":         'o',
				"octal":       'o',
				"hex":         'x',
				"hexadecimal": 'x',
				"dec":         'd',
				"decimal":     'd',
				"bin":         'b',
				"binary":      'b',
			}
			priFmt, ok = fmtMapToPriFmt[v[i]]
			if !ok {
				return fmt.Errorf("%q is not a valid format", v[i])
			}
		case "-count", "-len":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -count/-len")
			}
			var err error
			count, err = strconv.Atoi(v[i])
			if err != nil || count <= 0 {
				return fmt.Errorf("count/len must be a positive integer")
			}
		case "-size":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -size")
			}
			var err error
			size, err = strconv.Atoi(v[i])
			if err != nil || (size != 1 && size != 2) {
				return fmt.Errorf("size must be 1 or 2")
			}
		default:
			if i != len(v)-1 {
				return fmt.Errorf("unknown option %q", v[i])
			}
			address, err = strconv.ParseUint(v[i], 0, 64)
			if err != nil {
				address, err = registerAddress(t, ctx, v[i])
				if err != nil {
					return fmt.Errorf("%q is neither an address nor a register: %v", v[i], err)
				}
			}
			haveAddr = true
		}
	}

	if count*size > 1000 {
		return fmt.Errorf("read memory range (count*size) must be less than or equal to 1000 bytes")
	}

	if !haveAddr {
		return fmt.Errorf("no address specified")
	}

	if address+uint64(count*size) > 0x10000 {
		return fmt.Errorf("memory range %#x-%#x is outside of the address space", address, address+uint64(count*size))
	}

	if t.target == nil {
		return errors.New("no target")
	}
	memArea := make([]byte, count*size)
	n, err := t.target.Process().ReadMemory(memArea, address)
	if err != nil {
		return err
	}
	fmt.Fprint(t.stdout, prettyExamineMemory(address, memArea[:n], priFmt, size))
	return nil
}

// registerAddress reads the register called name to use it as an address.
func registerAddress(t *Term, ctx callContext, name string) (uint64, error) {
	rctx, err := t.registerContext(ctx)
	if err != nil {
		return 0, err
	}
	_, buf, err := readRegister(rctx, name)
	if err != nil {
		return 0, err
	}
	return leUint(buf), nil
}

// prettyExamineMemory formats memArea, read at address, in columns of
// size byte little endian items.
func prettyExamineMemory(address uint64, memArea []byte, format byte, size int) string {
	var (
		cols      int
		colFormat string
		colBytes  = size
	)

	switch format {
	case 'b':
		cols = 4 // Avoid emitting rows that are too long when using binary format
		colFormat = fmt.Sprintf("%%0%db", colBytes*8)
	case 'o':
		cols = 8
		colFormat = fmt.Sprintf("0%%0%do", colBytes*3) // Always keep one leading zero for octal.
	case 'd':
		cols = 8
		colFormat = fmt.Sprintf("%%0%dd", colBytes*3)
	case 'x':
		cols = 8
		colFormat = fmt.Sprintf("0x%%0%dx", colBytes*2) // Always keep one leading '0x' for hex.
	default:
		return fmt.Sprintf("not supported format %q\n", string(format))
	}
	colFormat += "\t"

	l := len(memArea)
	rows := l / (cols * colBytes)
	if l%(cols*colBytes) != 0 {
		rows++
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 3, ' ', 0)

	for i := 0; i < rows; i++ {
		fmt.Fprintf(w, "0x%04x:\t", address)

		for j := 0; j < cols; j++ {
			offset := i*(cols*colBytes) + j*colBytes
			if offset+colBytes <= len(memArea) {
				fmt.Fprintf(w, colFormat, leUint(memArea[offset:offset+colBytes]))
			}
		}
		fmt.Fprintln(w, "")
		address += uint64(cols * colBytes)
	}
	w.Flush()
	return b.String()
}

func imaginary(t *Term, ctx callContext, args string) error {
	if t.target == nil {
		return errors.New("no target")
	}
	for _, name := range t.target.ChangedModules() {
		fmt.Fprintf(t.stdout, "warning: %s changed since it was loaded, addresses may be out of date\n", name)
	}
	table := t.target.RegisterTable()
	dir := table.Directory()
	if dir == nil || dir.Fallback() {
		fmt.Fprintln(t.stdout, "No imaginary registers, the stack pointer is hardware S.")
		return nil
	}
	fpSlot := t.target.Arch().FramePointerSlot()

	w := tabwriter.NewWriter(t.stdout, 0, 8, 2, ' ', 0)
	for _, bs := range dir.ByteSlots() {
		fmt.Fprintf(w, "rc%d\t0x%04x\t\n", bs.Index, bs.Addr)
	}
	for _, ws := range dir.WordSlots() {
		var role string
		switch ws.Index {
		case proc.SoftStackPointerSlot:
			role = "sp"
		case fpSlot:
			role = "fp"
		}
		fmt.Fprintf(w, "rs%d\t0x%04x:0x%04x\t%s\n", ws.Index, ws.Lo, ws.Hi, role)
	}
	return w.Flush()
}

func threads(t *Term, ctx callContext, args string) error {
	if t.target == nil {
		return errors.New("no target")
	}
	cur, err := t.target.CurrentThread()
	if err != nil {
		return err
	}
	if ctx.Thread != 0 {
		cur = ctx.Thread
	}
	ids := append([]int(nil), t.target.Process().ThreadList()...)
	sort.Ints(ids)
	for _, id := range ids {
		prefix := "  "
		if id == cur {
			prefix = "* "
		}
		if pc, err := threadPC(t, id); err == nil {
			fmt.Fprintf(t.stdout, "%sThread %d at 0x%04x\n", prefix, id, pc)
		} else {
			fmt.Fprintf(t.stdout, "%sThread %d\n", prefix, id)
		}
	}
	return nil
}

func threadPC(t *Term, id int) (uint64, error) {
	rctx := t.target.RegisterContext(id)
	reg := rctx.Table().ByGeneric(proc.GenericPC)
	if reg == nil {
		return 0, proc.ErrUnsupportedRegister{Name: "pc"}
	}
	buf, err := rctx.ReadHardwareRegister(reg)
	if err != nil {
		return 0, err
	}
	return leUint(buf), nil
}

func (c *Commands) threadCmd(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("you must specify a thread")
	}
	tid, err := strconv.Atoi(args)
	if err != nil {
		return err
	}
	if t.target == nil {
		return errors.New("no target")
	}
	found := false
	for _, id := range t.target.Process().ThreadList() {
		if id == tid {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown thread %d", tid)
	}
	c.thread = tid
	fmt.Fprintf(t.stdout, "Switched to thread %d\n", tid)
	return nil
}

func (c *Commands) cont(t *Term, ctx callContext, args string) error {
	if t.client == nil {
		return errors.New("no process")
	}
	c.thread = 0
	stop, err := t.client.Continue()
	if err != nil {
		return err
	}
	printStop(t, stop.ThreadID, stop.String())
	return nil
}

func (c *Commands) stepInstruction(t *Term, ctx callContext, args string) error {
	if t.client == nil {
		return errors.New("no process")
	}
	c.thread = 0
	stop, err := t.client.Step()
	if err != nil {
		return err
	}
	printStop(t, stop.ThreadID, stop.String())
	return nil
}

func printStop(t *Term, tid int, reason string) {
	if pc, err := threadPC(t, tid); err == nil {
		fmt.Fprintf(t.stdout, "> Thread %d %s at %s\n", tid, reason, t.highlight(ansiBlue, fmt.Sprintf("0x%04x", pc)))
		return
	}
	fmt.Fprintf(t.stdout, "> Thread %d %s\n", tid, reason)
}

func halt(t *Term, ctx callContext, args string) error {
	if t.client == nil {
		return errors.New("no process")
	}
	return t.client.RequestManualStop()
}

// ExitRequestError is returned when the user
// exits mosdbg.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, ctx callContext, args string) error {
	switch args {
	case "":
	case "-k":
		t.killOnExit = true
	case "-d":
		t.detachRequested = true
	default:
		return fmt.Errorf("unknown option %q", args)
	}
	return ExitRequestError{}
}

func split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}
