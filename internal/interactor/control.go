package interactor

// RequestControl posts a prompt asking callers to send something on channel.
// A later request for the same channel replaces the prompt.
func (i *Interactor) RequestControl(channel, prompt string) {
	if !i.Has(channel) {
		return
	}
	i.controlMu.Lock()
	defer i.controlMu.Unlock()
	i.controls[channel] = prompt
}

// ResolveControl removes the pending prompt for channel, reporting whether one existed.
func (i *Interactor) ResolveControl(channel string) bool {
	i.controlMu.Lock()
	defer i.controlMu.Unlock()
	_, ok := i.controls[channel]
	delete(i.controls, channel)
	return ok
}

// PendingControls returns a copy of the outstanding prompts keyed by channel.
func (i *Interactor) PendingControls() map[string]string {
	i.controlMu.Lock()
	defer i.controlMu.Unlock()
	out := make(map[string]string, len(i.controls))
	for k, v := range i.controls {
		out[k] = v
	}
	return out
}
