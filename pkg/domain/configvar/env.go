package configvar

import (
	"slices"
)

type Source string

const (
	SourcePreset          Source = "preset"
	SourceUser            Source = "user"
	SourceAddon           Source = "addon"
	SourceBuiltinPlatform Source = "builtin_platform"
	SourceBuiltinRuntime  Source = "builtin_runtime"
)

// Var is a resolved environment variable.
type Var struct {
	Key       string
	Value     string
	Sensitive bool
	Source    Source
}

// Env is an ordered set of variables with unique keys.
//
// Set on an existing key replaces it at its position.
// The zero value is an empty Env.
type Env struct {
	vars  []Var
	index map[string]int
}

func (e *Env) Set(v Var) {
	if e.index == nil {
		e.index = map[string]int{}
	}
	if i, ok := e.index[v.Key]; ok {
		e.vars[i] = v
		return
	}
	e.index[v.Key] = len(e.vars)
	e.vars = append(e.vars, v)
}

func (e *Env) Get(key string) (Var, bool) {
	i, ok := e.index[key]
	if !ok {
		return Var{}, false
	}
	return e.vars[i], true
}

func (e *Env) Has(key string) bool {
	_, ok := e.index[key]
	return ok
}

func (e *Env) Len() int {
	return len(e.vars)
}

// Vars returns variables in order of the first Set.
func (e *Env) Vars() []Var {
	return slices.Clone(e.vars)
}

func (e *Env) Map() map[string]string {
	m := make(map[string]string, len(e.vars))
	for _, v := range e.vars {
		m[v.Key] = v.Value
	}
	return m
}

// Merge sets all variables of other, in its order.
func (e *Env) Merge(other Env) {
	for _, v := range other.vars {
		e.Set(v)
	}
}

// Redacted returns a copy without sensitive variables.
func (e *Env) Redacted() Env {
	r := Env{}
	for _, v := range e.vars {
		if v.Sensitive {
			continue
		}
		r.Set(v)
	}
	return r
}
