package interactor

// Flag is a one-shot triggered value. An untriggered flag always holds its default.
// Flag is not safe for concurrent use; the owning Interactor serializes access per channel.
type Flag struct {
	triggered bool
	value     any
	def       any
}

// NewFlag returns an untriggered flag holding def.
func NewFlag(def any) Flag {
	return Flag{value: def, def: def}
}

// TriggerWith marks the flag triggered with v.
func (f *Flag) TriggerWith(v any) {
	f.triggered = true
	f.value = v
}

// ConsumeTrigger returns the current state and resets the flag.
func (f *Flag) ConsumeTrigger() (bool, any) {
	triggered, value := f.triggered, f.value
	f.Reset()
	return triggered, value
}

// Reset returns the flag to its default.
func (f *Flag) Reset() {
	f.triggered = false
	f.value = f.def
}

// Triggered reports whether the flag holds a value.
func (f *Flag) Triggered() bool {
	return f.triggered
}

// Value returns the held value (the default when untriggered).
func (f *Flag) Value() any {
	return f.value
}

// Channel pairs a caller-to-simulation request flag with a simulation-to-caller response flag.
type Channel struct {
	Incoming Flag
	Outgoing Flag
}

// NewChannel returns a channel whose flags both default to def.
func NewChannel(def any) Channel {
	return Channel{Incoming: NewFlag(def), Outgoing: NewFlag(def)}
}
