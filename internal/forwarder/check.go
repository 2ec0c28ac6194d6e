package forwarder

import "fmt"

// RunOnce runs a single cycle and reports whether it succeeded.
func (s *Scheduler) RunOnce() error {
	report, err := s.runCycle(1)
	if err != nil {
		return err
	}

	if !report.OK() {
		return fmt.Errorf("%w: %w", ErrCycleFailed, report.Err)
	}
	return nil
}
