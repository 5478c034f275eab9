package console

// Disabled is the no-op controller used when no interactive console is
// wanted. Every method does nothing and OnExit fires immediately.
type Disabled struct {
	exited chan int
}

// NewDisabled returns a controller that never owns the terminal.
func NewDisabled() *Disabled {
	ch := make(chan int)
	close(ch)
	return &Disabled{exited: ch}
}

func (d *Disabled) Active() bool { return false }

func (d *Disabled) SelectSession(string) {}

func (d *Disabled) ShowToast(string) {}

func (d *Disabled) OnExit() <-chan int { return d.exited }

func (d *Disabled) Kill() {}
