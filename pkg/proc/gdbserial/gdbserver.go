// This file and its companion gdbserver_conn implement a proc.Process
// backed by a connection to a debugger stub speaking the "Gdb Remote
// Serial Protocol".
//
// The protocol is specified at:
//   https://sourceware.org/gdb/onlinedocs/gdb/Remote-Protocol.html
// with additional documentation for lldb specific extensions described at:
//   https://github.com/llvm-mirror/lldb/blob/master/docs/lldb-gdb-remote.txt
//
// Terminology:
//  * inferior: the 6502 program we are trying to debug
//  * stub: the debugger on the other side of the protocol's connection,
//    usually an emulator with a gdb stub (MAME, VICE) or a monitor running
//    on real hardware.
//
// Implementations of the protocol vary wildly between stubs. Most of the
// packets we use are optional, in particular stubs implement either 'p'
// (read single register) or 'g' (read all registers) and describe their
// registers either with qRegisterInfo or with target.xml. Both variants
// are supported.
//
// A 6502 has a single thread of execution. Stubs that do not answer
// qfThreadInfo are assumed to run a single thread with id 1.

package gdbserial

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/llvm-mos/mosdbg/pkg/logflags"
	"github.com/llvm-mos/mosdbg/pkg/proc"
)

const (
	gdbWireFullStopPacket = false
	gdbWireMaxLen         = 120

	maxTransmitAttempts    = 3    // number of retransmission attempts on failed checksum
	initialInputBufferSize = 2048 // size of the input buffer for gdbConn
)

const (
	interruptSignal  = 0x2
	breakpointSignal = 0x5
	stopSignal       = 0x13
)

// defaultThreadID is the thread id used for stubs that do not report
// threads.
const defaultThreadID = 1

// ErrRunning is returned when memory or registers are accessed while the
// inferior is running.
var ErrRunning = errors.New("process is running")

// Process implements proc.Process and proc.HardwareRegisterAccess using a
// connection to a debugger stub that understands Gdb Remote Serial
// Protocol.
type Process struct {
	conn gdbConn

	threads       map[int]*Thread
	currentThread *Thread

	exited, detached bool
	exitStatus       int
	ctrlC            bool // ctrl-c was sent to stop inferior

	manualStopRequested bool

	pcmdok bool // true if the stub supports p and P commands

	lastStop StopInfo
}

// Thread represents a thread of the stub.
type Thread struct {
	ID    int
	strID string
	p     *Process
}

// StopInfo describes why the inferior last stopped.
type StopInfo struct {
	ThreadID int
	Signal   uint8
	Reason   string
}

func (si StopInfo) String() string {
	if si.Reason != "" {
		return si.Reason
	}
	switch si.Signal {
	case interruptSignal:
		return "interrupted"
	case breakpointSignal:
		return "breakpoint"
	case stopSignal:
		return "stopped"
	}
	return fmt.Sprintf("signal %#x", si.Signal)
}

// New creates a new Process instance.
// Use Dial or Connect to complete connection.
func New() *Process {
	return &Process{
		conn: gdbConn{
			maxTransmitAttempts: maxTransmitAttempts,
			inbuf:               make([]byte, 0, initialInputBufferSize),
			stdout:              os.Stdout,
			log:                 logflags.GdbWireLogger(),
		},
		threads: make(map[int]*Thread),
		pcmdok:  true,
	}
}

// SetOutput sets the destination of the console output the stub forwards
// from the inferior.
func (p *Process) SetOutput(w io.Writer) {
	p.conn.stdout = w
}

// Dial attempts to connect to the stub at addr, retrying until timeout
// expires.
func (p *Process) Dial(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return p.Connect(conn)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("could not connect to stub at %s: %v", addr, err)
		}
		logflags.DebuggerLogger().Debugf("could not connect to %s, retrying: %v", addr, err)
		time.Sleep(time.Second)
	}
}

// Connect performs a handshake with the stub on conn and retrieves the
// initial stop status and the thread list.
func (p *Process) Connect(conn net.Conn) error {
	p.conn.conn = conn
	if err := p.conn.handshake(); err != nil {
		conn.Close()
		return err
	}
	logflags.DebuggerLogger().Debugf("stub registers: %v", p.conn.regsInfo)

	threadID, sig, err := p.conn.stopStatus()
	if err != nil {
		var exited proc.ErrProcessExited
		if errors.As(err, &exited) {
			p.exited = true
			p.exitStatus = exited.Status
			return err
		}
		conn.Close()
		return err
	}
	p.lastStop = StopInfo{Signal: sig}
	if err := p.updateThreadList(threadID); err != nil {
		conn.Close()
		return err
	}
	p.lastStop.ThreadID = p.currentThread.ID
	return nil
}

// Pid returns the process id reported by the stub, zero if unknown.
func (p *Process) Pid() int {
	return p.conn.pid
}

// State returns the execution state of the inferior.
func (p *Process) State() proc.StateType {
	switch {
	case p.detached:
		return proc.StateDetached
	case p.exited:
		return proc.StateExited
	case p.conn.conn == nil:
		return proc.StateInvalid
	}
	p.conn.manualStopMutex.Lock()
	defer p.conn.manualStopMutex.Unlock()
	if p.conn.running {
		return proc.StateRunning
	}
	return proc.StateStopped
}

// IsAlive returns true while the inferior has not exited and we are
// attached to it.
func (p *Process) IsAlive() bool {
	return p.conn.conn != nil && !p.exited && !p.detached
}

// ThreadList returns the ids of the inferior's threads, the current
// thread first.
func (p *Process) ThreadList() []int {
	if !p.IsAlive() {
		return nil
	}
	r := make([]int, 0, len(p.threads))
	if p.currentThread != nil {
		r = append(r, p.currentThread.ID)
	}
	for id := range p.threads {
		if p.currentThread == nil || id != p.currentThread.ID {
			r = append(r, id)
		}
	}
	return r
}

// LastStop returns the reason the inferior last stopped.
func (p *Process) LastStop() StopInfo {
	return p.lastStop
}

func (p *Process) checkStopped() error {
	if p.detached {
		return proc.ErrProcessDetached
	}
	if p.exited {
		return proc.ErrProcessExited{Pid: p.conn.pid, Status: p.exitStatus}
	}
	if p.conn.conn == nil {
		return errors.New("not connected")
	}
	if p.State() == proc.StateRunning {
		return ErrRunning
	}
	return nil
}

// ReadMemory reads len(data) bytes of memory at addr.
func (p *Process) ReadMemory(data []byte, addr uint64) (n int, err error) {
	if err := p.checkStopped(); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	if err := p.conn.readMemory(data, addr); err != nil {
		return 0, err
	}
	return len(data), nil
}

// WriteMemory writes data to memory at addr.
func (p *Process) WriteMemory(addr uint64, data []byte) (written int, err error) {
	if err := p.checkStopped(); err != nil {
		return 0, err
	}
	return p.conn.writeMemory(addr, data)
}

// stubRegister returns the stub's description of reg, matching its name
// and then its alternate name.
func (p *Process) stubRegister(reg *proc.RegisterInfo) (gdbRegisterInfo, error) {
	for _, name := range []string{reg.Name, reg.AltName} {
		if name == "" {
			continue
		}
		for _, ri := range p.conn.regsInfo {
			if strings.EqualFold(ri.Name, name) {
				return ri, nil
			}
		}
	}
	return gdbRegisterInfo{}, fmt.Errorf("register %s not provided by the stub", reg.Name)
}

func (p *Process) thread(threadID int) (*Thread, error) {
	th, ok := p.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("unknown thread %d", threadID)
	}
	return th, nil
}

// registersSize returns the size of the 'g' packet payload.
func (p *Process) registersSize() int {
	sz := 0
	for _, ri := range p.conn.regsInfo {
		if endoff := ri.Offset + ri.Bitsize/8; endoff > sz {
			sz = endoff
		}
	}
	return sz
}

// ReadHardwareRegister reads reg of thread threadID. The value is little
// endian and reg.Size bytes long.
func (p *Process) ReadHardwareRegister(threadID int, reg *proc.RegisterInfo) ([]byte, error) {
	if err := p.checkStopped(); err != nil {
		return nil, err
	}
	th, err := p.thread(threadID)
	if err != nil {
		return nil, err
	}
	ri, err := p.stubRegister(reg)
	if err != nil {
		return nil, err
	}
	value := make([]byte, ri.Bitsize/8)
	if p.pcmdok {
		err := p.conn.readRegister(th.strID, ri.Regnum, value)
		if err == nil {
			return fitRegister(value, reg.Size), nil
		}
		if !isProtocolErrorUnsupported(err) {
			return nil, err
		}
		p.pcmdok = false
	}
	buf := make([]byte, p.registersSize())
	if err := p.conn.readRegisters(th.strID, buf); err != nil {
		return nil, err
	}
	copy(value, buf[ri.Offset:])
	return fitRegister(value, reg.Size), nil
}

// WriteHardwareRegister writes data to reg of thread threadID.
func (p *Process) WriteHardwareRegister(threadID int, reg *proc.RegisterInfo, data []byte) error {
	if err := p.checkStopped(); err != nil {
		return err
	}
	th, err := p.thread(threadID)
	if err != nil {
		return err
	}
	ri, err := p.stubRegister(reg)
	if err != nil {
		return err
	}
	value := fitRegister(data, ri.Bitsize/8)
	if p.pcmdok {
		err := p.conn.writeRegister(th.strID, ri.Regnum, value)
		if err == nil {
			return nil
		}
		if !isProtocolErrorUnsupported(err) {
			return err
		}
		p.pcmdok = false
	}
	buf := make([]byte, p.registersSize())
	if err := p.conn.readRegisters(th.strID, buf); err != nil {
		return err
	}
	copy(buf[ri.Offset:ri.Offset+len(value)], value)
	return p.conn.writeRegisters(th.strID, buf)
}

func fitRegister(value []byte, size int) []byte {
	if len(value) == size {
		return value
	}
	r := make([]byte, size)
	copy(r, value)
	return r
}

// Continue resumes the inferior and waits until it stops.
func (p *Process) Continue() (StopInfo, error) {
	if err := p.checkStopped(); err != nil {
		return StopInfo{}, err
	}
	p.setCtrlC(false)
	for {
		threadID, sig, err := p.conn.resume()
		if err != nil {
			return StopInfo{}, p.handleStopError(err)
		}
		// 0x2 could also be produced by the user pressing ^C in the
		// emulator, in which case it should be passed to the inferior.
		if sig == interruptSignal && !p.getCtrlC() {
			continue
		}
		return p.stopped(threadID, sig)
	}
}

// Step executes a single instruction.
func (p *Process) Step() (StopInfo, error) {
	if err := p.checkStopped(); err != nil {
		return StopInfo{}, err
	}
	threadID, sig, err := p.conn.step()
	if err != nil {
		return StopInfo{}, p.handleStopError(err)
	}
	return p.stopped(threadID, sig)
}

func (p *Process) handleStopError(err error) error {
	var exited proc.ErrProcessExited
	if errors.As(err, &exited) {
		p.exited = true
		p.exitStatus = exited.Status
	}
	return err
}

func (p *Process) stopped(threadID string, sig uint8) (StopInfo, error) {
	if err := p.updateThreadList(threadID); err != nil {
		return StopInfo{}, err
	}
	p.lastStop = StopInfo{ThreadID: p.currentThread.ID, Signal: sig}
	return p.lastStop, nil
}

// RequestManualStop will attempt to stop the process
// without a breakpoint or signal having been received.
func (p *Process) RequestManualStop() error {
	p.conn.manualStopMutex.Lock()
	p.manualStopRequested = true
	if !p.conn.running {
		p.conn.manualStopMutex.Unlock()
		return nil
	}
	p.ctrlC = true
	p.conn.manualStopMutex.Unlock()
	return p.conn.sendCtrlC()
}

// CheckAndClearManualStopRequest will check for a manual
// stop and then clear that state.
func (p *Process) CheckAndClearManualStopRequest() bool {
	p.conn.manualStopMutex.Lock()
	msr := p.manualStopRequested
	p.manualStopRequested = false
	p.conn.manualStopMutex.Unlock()
	return msr
}

func (p *Process) setCtrlC(v bool) {
	p.conn.manualStopMutex.Lock()
	p.ctrlC = v
	p.conn.manualStopMutex.Unlock()
}

func (p *Process) getCtrlC() bool {
	p.conn.manualStopMutex.Lock()
	defer p.conn.manualStopMutex.Unlock()
	return p.ctrlC
}

// Detach will detach from the target process,
// if 'kill' is true it will also kill the process.
func (p *Process) Detach(kill bool) error {
	if p.detached {
		return nil
	}
	if kill && !p.exited {
		err := p.conn.kill()
		if err != nil {
			var exited proc.ErrProcessExited
			if !errors.As(err, &exited) {
				return err
			}
			p.exited = true
		}
	}
	if !p.exited {
		if err := p.conn.detach(); err != nil {
			return err
		}
	}
	if p.conn.conn != nil {
		p.conn.conn.Close()
		p.conn.conn = nil
	}
	p.detached = true
	return nil
}

// updateThreadList retrieves the list of inferior threads from the stub.
// stopThread is the thread reported by the last stop packet and becomes
// the current thread.
func (p *Process) updateThreadList(stopThread string) error {
	var ids []string
	first := true
	for {
		threads, err := p.conn.queryThreads(first)
		if err != nil {
			if first && isProtocolErrorUnsupported(err) {
				break
			}
			return err
		}
		if len(threads) == 0 {
			break
		}
		first = false
		ids = append(ids, threads...)
	}
	if len(ids) == 0 {
		if stopThread != "" {
			ids = []string{stopThread}
		} else {
			ids = []string{strconv.Itoa(defaultThreadID)}
		}
	}

	p.threads = make(map[int]*Thread, len(ids))
	p.currentThread = nil
	for _, strID := range ids {
		tid, err := parseThreadID(strID)
		if err != nil {
			return err
		}
		th := &Thread{ID: tid, strID: strID, p: p}
		p.threads[tid] = th
		if p.currentThread == nil || strID == stopThread {
			p.currentThread = th
		}
	}
	return nil
}

// parseThreadID parses a thread id in either the plain or the
// multiprocess (pPID.TID) form.
func parseThreadID(threadID string) (int, error) {
	b := threadID
	if period := strings.Index(b, "."); period >= 0 {
		b = b[period+1:]
	}
	n, err := strconv.ParseUint(b, 16, 32)
	if err != nil {
		return 0, &GdbMalformedThreadIDError{threadID}
	}
	return int(n), nil
}
