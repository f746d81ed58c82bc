package system

// CPU is the emulated processor driven by the single-core loop.
type CPU interface {
	// Run executes at most budget cycles and returns how many were used.
	// idle tells that the CPU had nothing to run.
	Run(budget int64) (used int64, idle bool)
}

// BusyCPU always uses its whole budget.
type BusyCPU struct{}

// Run uses the whole budget.
func (BusyCPU) Run(budget int64) (int64, bool) {
	if budget < 0 {
		budget = 0
	}

	return budget, false
}

// IdleCPU never has anything to run, so time jumps from event to event.
type IdleCPU struct{}

// Run reports idle without using cycles.
func (IdleCPU) Run(int64) (int64, bool) {
	return 0, true
}
