package regnum

import (
	"fmt"
	"strconv"
	"strings"
)

// The mapping between hardware registers and DWARF registers for MOS
// targets is defined by the llvm-mos backend in MOSRegisterInfo.td.
// Imaginary registers live above the hardware range: each 8-bit rcN takes
// an even number starting at MOS_RC0 and each 16-bit rsN is numbered
// consecutively starting at MOS_RS0.

const (
	MOS_A = 0  // Accumulator
	MOS_X = 2  // X index register
	MOS_Y = 4  // Y index register
	MOS_S = 6  // Hardware stack pointer
	MOS_C = 7  // Carry flag
	MOS_N = 8  // Negative flag
	MOS_V = 9  // Overflow flag
	MOS_Z = 10 // Zero flag
	MOS_P = 12 // Processor status

	MOS_RC0   = 0x10               // rc1 through rc255 follow at even numbers
	MOS_RS0   = MOS_RC0 + 256*2    // rs1 through rs127 follow
	MOS_RSMax = MOS_RS0 + MOSMaxRS // last rs number

	// MOSMaxRC is the highest imaginary byte register index.
	MOSMaxRC = 255
	// MOSMaxRS is the highest imaginary word register index.
	MOSMaxRS = MOSMaxRC / 2
)

var mosDwarfToName = map[uint64]string{
	MOS_A: "a",
	MOS_X: "x",
	MOS_Y: "y",
	MOS_S: "s",
	MOS_C: "c",
	MOS_N: "n",
	MOS_V: "v",
	MOS_Z: "z",
	MOS_P: "p",
}

// MOSRC returns the DWARF number of imaginary byte register rcN.
func MOSRC(n int) uint64 {
	return uint64(MOS_RC0 + 2*n)
}

// MOSRS returns the DWARF number of imaginary word register rsN.
func MOSRS(n int) uint64 {
	return uint64(MOS_RS0 + n)
}

// MOSToName returns the name of the register with DWARF number num.
func MOSToName(num uint64) string {
	if name, ok := mosDwarfToName[num]; ok {
		return name
	}
	switch {
	case num >= MOS_RC0 && num < MOS_RS0 && (num-MOS_RC0)%2 == 0:
		return fmt.Sprintf("rc%d", (num-MOS_RC0)/2)
	case num >= MOS_RS0 && num <= MOS_RSMax:
		return fmt.Sprintf("rs%d", num-MOS_RS0)
	}
	return fmt.Sprintf("unknown%d", num)
}

// MOSNameToDwarf returns the DWARF number of the register called name.
// Names are case insensitive; rcN and rsN are accepted for every valid N.
func MOSNameToDwarf(name string) (uint64, bool) {
	name = strings.ToLower(name)
	for num, n := range mosDwarfToName {
		if n == name {
			return num, true
		}
	}
	if idx, ok := imaginaryIndex(name, "rc", MOSMaxRC); ok {
		return MOSRC(idx), true
	}
	if idx, ok := imaginaryIndex(name, "rs", MOSMaxRS); ok {
		return MOSRS(idx), true
	}
	return 0, false
}

func imaginaryIndex(name, prefix string, max int) (int, bool) {
	if !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
		return 0, false
	}
	idx, err := strconv.Atoi(name[len(prefix):])
	if err != nil || idx < 0 || idx > max {
		return 0, false
	}
	return idx, true
}
