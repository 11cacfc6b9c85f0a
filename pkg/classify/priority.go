package classify

import "fmt"

// PriorityLevel is an ordered QoS tier. Higher values are more urgent.
type PriorityLevel uint8

const (
	PriorityLowest PriorityLevel = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityHighest

	NumPriorities = 5
)

// classPriority is total over TrafficClass. PriorityLowest is reserved
// for explicit deprioritization and is not produced by this table.
var classPriority = [NumClasses]PriorityLevel{
	ClassBackground: PriorityLow,
	ClassGame:       PriorityHighest,
	ClassVoice:      PriorityHigh,
	ClassStreaming:  PriorityMedium,
}

// Assign returns the priority level for a traffic class.
func Assign(c TrafficClass) PriorityLevel {
	if c >= NumClasses {
		return PriorityLow
	}
	return classPriority[c]
}

// IsHigh reports whether p is High or Highest, the levels that receive
// low-latency accounting.
func (p PriorityLevel) IsHigh() bool {
	return p >= PriorityHigh
}

var priorityNames = [NumPriorities]string{
	PriorityLowest:  "lowest",
	PriorityLow:     "low",
	PriorityMedium:  "medium",
	PriorityHigh:    "high",
	PriorityHighest: "highest",
}

func (p PriorityLevel) String() string {
	if int(p) < len(priorityNames) {
		return priorityNames[p]
	}
	return fmt.Sprintf("priority(%d)", uint8(p))
}

// DiffServ code points per level (RFC 4594 service classes).
var priorityDSCP = [NumPriorities]uint8{
	PriorityLowest:  8,  // CS1, lower effort
	PriorityLow:     0,  // CS0, best effort
	PriorityMedium:  18, // AF21
	PriorityHigh:    34, // AF41
	PriorityHighest: 46, // EF
}

// DSCP returns the DiffServ code point used to mark traffic of this level.
func (p PriorityLevel) DSCP() uint8 {
	if int(p) < len(priorityDSCP) {
		return priorityDSCP[p]
	}
	return 0
}

// TOS returns the IPv4 TOS byte carrying p's DSCP with ECN bits clear.
func (p PriorityLevel) TOS() int {
	return int(p.DSCP()) << 2
}
