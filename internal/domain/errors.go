package domain

import "errors"

var (
	ErrMachineNotFound       = errors.New("machine not found")
	ErrMachineExists         = errors.New("machine already exists")
	ErrJobNotFound           = errors.New("job not found in backlog")
	ErrJobExists             = errors.New("job already exists")
	ErrScheduledJobNotFound  = errors.New("job not committed to machine")
	ErrInvalidDuration       = errors.New("invalid duration")
	ErrInvalidJob            = errors.New("invalid job")
	ErrInvalidMachine        = errors.New("invalid machine")
	ErrInvalidStatus         = errors.New("invalid machine status")
	ErrItemOutOfRange        = errors.New("item index out of range")
	ErrItemAlreadyCommitted  = errors.New("item already committed")
	ErrJobPartiallyCommitted = errors.New("job has committed items; assign the remaining items individually")
	ErrSlotConflict          = errors.New("slot overlaps a committed job")
	ErrSlotInPast            = errors.New("slot starts before now")
	ErrInfeasible            = errors.New("no slot satisfies the deadline")
)
