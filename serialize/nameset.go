package serialize

import "sort"

// nameSet tracks column/relation identifiers, bare or qualified as
// "table.name". Recursive calls receive copies, never shared state.
type nameSet map[string]struct{}

func newNameSet(names []string) nameSet {
	set := nameSet{}
	set.add(names...)
	return set
}

func (s nameSet) add(names ...string) {
	for _, name := range names {
		if name == "" {
			continue
		}
		s[name] = struct{}{}
	}
}

func (s nameSet) merge(other nameSet) {
	for name := range other {
		s[name] = struct{}{}
	}
}

func (s nameSet) clone() nameSet {
	out := make(nameSet, len(s))
	for name := range s {
		out[name] = struct{}{}
	}
	return out
}

func (s nameSet) empty() bool {
	return len(s) == 0
}

// match reports whether the set names the identifier, either bare or
// qualified with its table.
func (s nameSet) match(table, name string) bool {
	if _, ok := s[name]; ok {
		return true
	}
	_, ok := s[table+"."+name]
	return ok
}

func (s nameSet) list() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
