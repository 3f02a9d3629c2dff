package restreamer

// OutputOptions collects FFmpeg-equivalent output options as a structured
// flag→arguments map. The engine consumes a flat positional array, but
// building it by index is fragile, so the positional shape is produced only
// at the wire boundary by Args.
type OutputOptions struct {
	order  []string
	values map[string][]string
}

// NewOutputOptions returns an empty option set.
func NewOutputOptions() *OutputOptions {
	return &OutputOptions{values: make(map[string][]string)}
}

// Set stores the arguments for a flag, replacing any previous value while
// keeping the flag's original position.
func (o *OutputOptions) Set(flag string, args ...string) *OutputOptions {
	if _, ok := o.values[flag]; !ok {
		o.order = append(o.order, flag)
	}
	o.values[flag] = args
	return o
}

// Get returns the arguments stored for a flag.
func (o *OutputOptions) Get(flag string) ([]string, bool) {
	args, ok := o.values[flag]
	return args, ok
}

// Args serializes the options to the engine's positional array shape in
// insertion order.
func (o *OutputOptions) Args() []string {
	out := make([]string, 0, len(o.order)*2)
	for _, flag := range o.order {
		out = append(out, flag)
		out = append(out, o.values[flag]...)
	}
	return out
}
