package pipeline

import "strings"

// RunType identifies the run role a result belongs to.
type RunType string

// MonitorType identifies the monitor role of a monitor-derived result.
type MonitorType string

// Part identifies whether a result is the numerator or denominator of I(Q).
type Part string

// Key uniquely identifies a result in the graph. Name is the result type;
// the remaining fields are role parameters and are empty where a result is
// not parametrized by them.
type Key struct {
	Name string
	Run  RunType
	Mon  MonitorType
	Part Part
}

// Named returns a key carrying only a result name, as used for parameters
// and run-independent results.
func Named(name string) Key { return Key{Name: name} }

// For returns a copy of k bound to the given run role.
func (k Key) For(run RunType) Key {
	k.Run = run
	return k
}

// WithMonitor returns a copy of k bound to the given monitor role.
func (k Key) WithMonitor(mon MonitorType) Key {
	k.Mon = mon
	return k
}

// WithPart returns a copy of k bound to the given I(Q) part.
func (k Key) WithPart(part Part) Key {
	k.Part = part
	return k
}

// String renders the key for error messages and logs.
func (k Key) String() string {
	parts := []string{k.Name}
	if k.Run != "" {
		parts = append(parts, string(k.Run))
	}
	if k.Mon != "" {
		parts = append(parts, string(k.Mon))
	}
	if k.Part != "" {
		parts = append(parts, string(k.Part))
	}
	return strings.Join(parts, "/")
}
