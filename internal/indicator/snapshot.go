package indicator

// Snapshot holds every configured series value for one bar, keyed by series name.
type Snapshot map[string]Value

// Get returns the named value; a missing series is Undefined.
func (s Snapshot) Get(name string) Value {
	if s == nil {
		return Undefined
	}
	return s[name]
}

// AllDefined reports whether every series in the snapshot has a value.
// An empty snapshot is trivially defined.
func (s Snapshot) AllDefined() bool {
	for _, v := range s {
		if !v.Defined {
			return false
		}
	}
	return true
}
