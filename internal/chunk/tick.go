package chunk

// TickPriority упорядочивает тики, сработавшие в одном и том же ходе.
// Меньшее значение обрабатывается раньше.
type TickPriority int8

const (
	PriorityExtremelyHigh TickPriority = iota - 3
	PriorityVeryHigh
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityVeryLow
	PriorityExtremelyLow
)

var priorityNames = map[TickPriority]string{
	PriorityExtremelyHigh: "extremely_high",
	PriorityVeryHigh:      "very_high",
	PriorityHigh:          "high",
	PriorityNormal:        "normal",
	PriorityLow:           "low",
	PriorityVeryLow:       "very_low",
	PriorityExtremelyLow:  "extremely_low",
}

func (p TickPriority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "unknown"
}

// ScheduledTick описывает отложенное действие над блоком.
type ScheduledTick struct {
	Pos         BlockPos
	Delay       uint16
	Priority    TickPriority
	TargetBlock uint16
}
