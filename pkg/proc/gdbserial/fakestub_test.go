package gdbserial

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type fakeReg struct {
	name  string
	value []byte
}

// fakeStub is an in-process 6502 gdb stub.
type fakeStub struct {
	t    *testing.T
	conn net.Conn
	rdr  *bufio.Reader

	ack bool

	// options
	targetXML     bool   // describe registers with target.xml instead of qRegisterInfo
	noAckMode     bool   // reject QStartNoAckMode
	noP           bool   // reject p and P
	noThreads     bool   // reject qfThreadInfo
	packetSize    string // PacketSize advertised in qSupported, hex
	continueReply string // stop packet sent after 'c', empty waits for ctrl-C
	output        string // console output sent before the stop packet
	failAddr      map[uint64]bool

	mu       sync.Mutex
	received []string
	mem      [0x10000]byte
	regs     []fakeReg
	running  bool
}

func newFakeStub(t *testing.T) *fakeStub {
	return &fakeStub{
		t:          t,
		ack:        true,
		packetSize: "400",
		regs: []fakeReg{
			{"a", []byte{0x00}},
			{"x", []byte{0x00}},
			{"y", []byte{0x00}},
			{"p", []byte{0x24}},
			{"sp", []byte{0xfd}},
			{"pc", []byte{0x00, 0x80}},
		},
	}
}

// start connects a new Process to the stub.
func (s *fakeStub) start() *Process {
	client, server := net.Pipe()
	s.conn = server
	s.rdr = bufio.NewReader(server)
	go s.serve()
	s.t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	p := New()
	if err := p.Connect(client); err != nil {
		s.t.Fatalf("Connect: %v", err)
	}
	return p
}

func (s *fakeStub) packets(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r []string
	for _, pkt := range s.received {
		if strings.HasPrefix(pkt, prefix) {
			r = append(r, pkt)
		}
	}
	return r
}

func (s *fakeStub) reg(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.regs {
		if r.name == name {
			return r.value
		}
	}
	return nil
}

func (s *fakeStub) serve() {
	for {
		b, err := s.rdr.ReadByte()
		if err != nil {
			return
		}
		switch b {
		case '+', '-':
			continue
		case ctrlC:
			s.mu.Lock()
			running := s.running
			s.running = false
			s.mu.Unlock()
			if running {
				s.reply("T02thread:1;")
			}
			continue
		case '$':
		default:
			continue
		}
		pkt, err := s.rdr.ReadString('#')
		if err != nil {
			return
		}
		if _, err := io.ReadFull(s.rdr, make([]byte, 2)); err != nil {
			return
		}
		pkt = pkt[:len(pkt)-1]
		if s.ack {
			s.conn.Write([]byte{'+'})
		}
		s.mu.Lock()
		s.received = append(s.received, pkt)
		s.mu.Unlock()
		s.handle(pkt)
	}
}

func (s *fakeStub) reply(resp string) {
	sum := checksum([]byte("$" + resp + "#"))
	fmt.Fprintf(s.conn, "$%s#%02x", resp, sum)
}

func (s *fakeStub) targetDescription() string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><target version="1.0"><architecture>m6502</architecture><feature name="mame.m6502">`)
	for i, r := range s.regs {
		fmt.Fprintf(&b, `<reg name="%s" bitsize="%d" type="int" regnum="%d"/>`, r.name, 8*len(r.value), i)
	}
	b.WriteString(`</feature></target>`)
	return b.String()
}

func (s *fakeStub) allRegisters() string {
	var b strings.Builder
	for _, r := range s.regs {
		b.WriteString(hex.EncodeToString(r.value))
	}
	return b.String()
}

func (s *fakeStub) handle(pkt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case pkt == "QStartNoAckMode":
		if s.noAckMode {
			s.reply("")
			return
		}
		s.reply("OK")
		s.ack = false
	case strings.HasPrefix(pkt, "qSupported"):
		s.reply("PacketSize=" + s.packetSize + ";qXfer:features:read+")
	case strings.HasPrefix(pkt, "qRegisterInfo"):
		if s.targetXML {
			s.reply("")
			return
		}
		n, _ := strconv.ParseUint(pkt[len("qRegisterInfo"):], 16, 32)
		if int(n) >= len(s.regs) {
			s.reply("E45")
			return
		}
		offset := 0
		for _, r := range s.regs[:n] {
			offset += len(r.value)
		}
		r := s.regs[n]
		s.reply(fmt.Sprintf("name:%s;bitsize:%d;offset:%d;encoding:uint;format:hex;set:General Purpose Registers;", r.name, 8*len(r.value), offset))
	case strings.HasPrefix(pkt, "qXfer:features:read:target.xml:0,"):
		s.reply("l" + s.targetDescription())
	case strings.HasPrefix(pkt, "qXfer:features:read:"):
		s.reply("l")
	case pkt == "?":
		s.reply("T05thread:1;")
	case pkt == "qfThreadInfo":
		if s.noThreads {
			s.reply("")
			return
		}
		s.reply("m1")
	case pkt == "qsThreadInfo":
		s.reply("l")
	case strings.HasPrefix(pkt, "H"):
		s.reply("OK")
	case pkt == "g":
		s.reply(s.allRegisters())
	case strings.HasPrefix(pkt, "G"):
		data, _ := hex.DecodeString(pkt[1:])
		for i := range s.regs {
			n := copy(s.regs[i].value, data)
			data = data[n:]
		}
		s.reply("OK")
	case strings.HasPrefix(pkt, "p"):
		if s.noP {
			s.reply("")
			return
		}
		n, _ := strconv.ParseUint(pkt[1:], 16, 32)
		s.reply(hex.EncodeToString(s.regs[n].value))
	case strings.HasPrefix(pkt, "P"):
		if s.noP {
			s.reply("")
			return
		}
		eq := strings.Index(pkt, "=")
		n, _ := strconv.ParseUint(pkt[1:eq], 16, 32)
		data, _ := hex.DecodeString(pkt[eq+1:])
		copy(s.regs[n].value, data)
		s.reply("OK")
	case strings.HasPrefix(pkt, "m"):
		var addr, n uint64
		fmt.Sscanf(pkt, "m%x,%x", &addr, &n)
		if s.failAddr[addr] {
			s.reply("E01")
			return
		}
		s.reply(hex.EncodeToString(s.mem[addr : addr+n]))
	case strings.HasPrefix(pkt, "M"):
		colon := strings.Index(pkt, ":")
		var addr, n uint64
		fmt.Sscanf(pkt[:colon], "M%x,%x", &addr, &n)
		if s.failAddr[addr] {
			s.reply("E01")
			return
		}
		data, _ := hex.DecodeString(pkt[colon+1:])
		copy(s.mem[addr:], data)
		s.reply("OK")
	case pkt == "c":
		if s.continueReply == "" {
			s.running = true
			return
		}
		if s.output != "" {
			s.reply("O" + hex.EncodeToString([]byte(s.output)))
		}
		s.reply(s.continueReply)
	case pkt == "s":
		s.regs[5].value[0]++
		s.reply("T05thread:1;")
	case pkt == "D":
		s.reply("OK")
	case pkt == "k":
		s.reply("X09")
	default:
		s.reply("")
	}
}
