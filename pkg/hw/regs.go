package hw

// Register offsets (bytes from BAR0) for the 8254x-family MAC.
const (
	RegCTRL   uint32 = 0x0000
	RegSTATUS uint32 = 0x0008
	RegITR    uint32 = 0x00C4
	RegRCTL   uint32 = 0x0100
	RegTXCW   uint32 = 0x0178
	RegRXCW   uint32 = 0x0180
	RegTCTL   uint32 = 0x0400
	RegEEER   uint32 = 0x0E30
	RegRDLEN  uint32 = 0x2808
	RegRDH    uint32 = 0x2810
	RegRDT    uint32 = 0x2818
	RegRXDCTL uint32 = 0x2828
	RegTQAVCC uint32 = 0x3004
	RegTDLEN  uint32 = 0x3808
	RegTDH    uint32 = 0x3810
	RegTDT    uint32 = 0x3818
	RegTXDCTL uint32 = 0x3828

	// RegisterSpaceSize covers every offset above.
	RegisterSpaceSize uint32 = 0x10000
)

// CTRL bits.
const (
	CtrlSLU        uint32 = 0x00000040 // set link up
	CtrlITREnable  uint32 = 0x00004000 // interrupt throttling
	CtrlEEEEnable  uint32 = 0x00100000 // energy efficient ethernet
	CtrlASPMEnable uint32 = 0x00200000 // active state power management
	CtrlRST        uint32 = 0x04000000
)

// RCTL bits.
const (
	RctlEN        uint32 = 0x00000002
	RctlBAM       uint32 = 0x00008000
	RctlBSIZEMask uint32 = 0x00030000
	RctlBSEX      uint32 = 0x02000000
	RctlSECRC     uint32 = 0x04000000
)

// TCTL transmit enable.
const TctlEN uint32 = 0x00000002

// TXCW/RXCW QoS enable.
const CwQoSEnable uint32 = 0x00000400

// TQAVCC bits. Traffic prioritization owns the priority bit and bandwidth
// control owns the QoS enable bit; each applier only touches its own.
const (
	TqavccQoSEnable uint32 = 0x00000001
	TqavccPriority  uint32 = 0x00000100
)

// EEER low power idle bits.
const (
	EeerTxLPIEnable uint32 = 0x00010000
	EeerRxLPIEnable uint32 = 0x00020000
	EeerLPIFlowCtl  uint32 = 0x00040000
	eeerLPIMask            = EeerTxLPIEnable | EeerRxLPIEnable | EeerLPIFlowCtl
)

// RXDCTL/TXDCTL threshold fields.
const (
	dctlThreshMask   uint32 = 0x3F
	dctlPThreshShift        = 0
	dctlHThreshShift        = 8
	dctlWThreshShift        = 16
)

// descriptorBytes is the size of one legacy rx/tx descriptor.
const descriptorBytes = 16

// RegisterNames lists the registers included in a Device dump.
var RegisterNames = map[string]uint32{
	"CTRL":   RegCTRL,
	"STATUS": RegSTATUS,
	"ITR":    RegITR,
	"RCTL":   RegRCTL,
	"TXCW":   RegTXCW,
	"RXCW":   RegRXCW,
	"TCTL":   RegTCTL,
	"EEER":   RegEEER,
	"RDLEN":  RegRDLEN,
	"RDH":    RegRDH,
	"RDT":    RegRDT,
	"RXDCTL": RegRXDCTL,
	"TQAVCC": RegTQAVCC,
	"TDLEN":  RegTDLEN,
	"TDH":    RegTDH,
	"TDT":    RegTDT,
	"TXDCTL": RegTXDCTL,
}
