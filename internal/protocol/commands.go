package protocol

import (
	"fmt"
	"math"
)

// Fixed node commands.
const (
	CmdIdentity          = "deca$"
	CmdGetKnownList      = "getKList"
	CmdGetDiscoveredList = "getDlist"
	CmdSave              = "save"
)

// CommandTerminator ends every line written to the node.
const CommandTerminator = "\r\n"

// AddTag builds the command that joins id64 to the network. The proposed short
// address is the low 16 bits of id64; the slow-rate field is fixed at 64.
func AddTag(id64 uint64, fastRate int, imu bool) string {
	mode := 0
	if imu {
		mode = 1
	}
	return fmt.Sprintf("addtag %016x %04x %04x 64 %02x", id64, id64&0xFFFF, fastRate&0xFFFF, mode)
}

// DeleteTag builds the command that removes id64 from the node's known list.
func DeleteTag(id64 uint64) string {
	return fmt.Sprintf("deltag %016x", id64)
}

// PDOAOffset builds the phase offset command. The node takes whole degrees as
// an unsigned 16-bit value, so negative offsets wrap.
func PDOAOffset(phaseRad float64) string {
	deg := int32(math.Trunc(phaseRad * 180 / math.Pi))
	return fmt.Sprintf("pdoaoff %04d", uint16(deg))
}

// RangeOffset builds the range offset command in millimetres, wrapped the same
// way as PDOAOffset.
func RangeOffset(rangeM float64) string {
	mm := int32(math.Trunc(rangeM * 1000))
	return fmt.Sprintf("rngoff %04d", uint16(mm))
}
