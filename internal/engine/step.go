package engine

// Advance runs one integration step over all bodies and waits for the
// device to finish. Position and velocity are updated in place.
func (s *State) Advance() error {
	const op = "advance"
	if err := s.allocated(op); err != nil {
		return err
	}
	if err := s.queue.Launch(s.step, s.n, s.group); err != nil {
		return newError(op, KindLaunchFailed, err)
	}
	if err := s.queue.Finish(); err != nil {
		return newError(op, KindLaunchFailed, err)
	}
	return nil
}
