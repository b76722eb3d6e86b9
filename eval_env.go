// Copyright 2011 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nin

// Env is a scope for variable (e.g. "$foo") lookups.
type Env interface {
	LookupVariable(name string) string
}

// EvalStringToken is one chunk of a lazily-evaluated template: either a
// literal span (Special == false) or a variable reference to be looked up
// in an Env at evaluation time (Special == true).
type EvalStringToken struct {
	Value   string
	Special bool
}

// EvalString is a parsed sequence of literal and variable chunks, produced
// once at load time and evaluated (cheaply, repeatedly) against different
// environments.
type EvalString struct {
	Parsed []EvalStringToken
}

// Evaluate substitutes each variable chunk via env and concatenates.
func (e *EvalString) Evaluate(env Env) string {
	if e == nil {
		return ""
	}
	var result []byte
	for _, t := range e.Parsed {
		if !t.Special {
			result = append(result, t.Value...)
		} else {
			result = append(result, env.LookupVariable(t.Value)...)
		}
	}
	return string(result)
}

// AddText appends a literal chunk, merging into the previous literal chunk
// if possible.
func (e *EvalString) AddText(text string) {
	if n := len(e.Parsed); n > 0 && !e.Parsed[n-1].Special {
		e.Parsed[n-1].Value += text
		return
	}
	e.Parsed = append(e.Parsed, EvalStringToken{text, false})
}

// AddSpecial appends a variable-reference chunk.
func (e *EvalString) AddSpecial(text string) {
	e.Parsed = append(e.Parsed, EvalStringToken{text, true})
}

// Serialize renders the token list for debugging/tests: "[lit][$var]...".
func (e *EvalString) Serialize() string {
	var result []byte
	for _, t := range e.Parsed {
		result = append(result, '[')
		if t.Special {
			result = append(result, '$')
		}
		result = append(result, t.Value...)
		result = append(result, ']')
	}
	return string(result)
}

// Unparse renders the token list back into manifest syntax ("${var}").
func (e *EvalString) Unparse() string {
	var result []byte
	for _, t := range e.Parsed {
		if t.Special {
			result = append(result, "${"...)
		}
		result = append(result, t.Value...)
		if t.Special {
			result = append(result, '}')
		}
	}
	return string(result)
}

// Rule is a named command template: a rule name plus a map of bindings
// (command, description, depfile, deps, rspfile, rspfile_content, restat,
// generator, pool, dyndep). Bindings are lazy EvalString templates, looked
// up in an edge's environment when the command is actually run.
type Rule struct {
	Name     string
	Bindings map[string]*EvalString
}

// NewRule creates an empty rule of the given name.
func NewRule(name string) *Rule {
	return &Rule{Name: name, Bindings: map[string]*EvalString{}}
}

// GetBinding returns the rule's raw template for key, or nil if unset.
func (r *Rule) GetBinding(key string) *EvalString {
	return r.Bindings[key]
}

// IsReservedBinding reports whether name is one of the rule-level bindings
// recognized by the core (as opposed to an arbitrary user variable).
func IsReservedBinding(name string) bool {
	switch name {
	case "command", "depfile", "dyndep", "description", "deps", "generator",
		"pool", "restat", "rspfile", "rspfile_content", "msvc_deps_prefix":
		return true
	default:
		return false
	}
}

// BindingEnv maps names to values and rules to definitions, with a parent
// pointer; lookups walk the chain from this scope outward. Flat-scope
// includes share a BindingEnv with their parent; nested-scope subninjas get
// a fresh child.
type BindingEnv struct {
	Bindings map[string]string
	Rules    map[string]*Rule
	Parent   *BindingEnv
}

// NewBindingEnv creates a binding scope, optionally chained to parent.
func NewBindingEnv(parent *BindingEnv) *BindingEnv {
	return &BindingEnv{
		Bindings: map[string]string{},
		Rules:    map[string]*Rule{},
		Parent:   parent,
	}
}

// LookupVariable implements Env.
func (b *BindingEnv) LookupVariable(name string) string {
	if v, ok := b.Bindings[name]; ok {
		return v
	}
	if b.Parent != nil {
		return b.Parent.LookupVariable(name)
	}
	return ""
}

// AddBinding records a plain key=value assignment in this scope.
func (b *BindingEnv) AddBinding(key, val string) {
	b.Bindings[key] = val
}

// AddRule registers rule in this scope. It is an error (caught by the
// parser before calling this) to redefine a rule already present in the
// current scope.
func (b *BindingEnv) AddRule(rule *Rule) {
	b.Rules[rule.Name] = rule
}

// LookupRuleCurrentScope looks up name without consulting the parent chain.
func (b *BindingEnv) LookupRuleCurrentScope(name string) *Rule {
	return b.Rules[name]
}

// LookupRule looks up name, walking the parent chain.
func (b *BindingEnv) LookupRule(name string) *Rule {
	if r, ok := b.Rules[name]; ok {
		return r
	}
	if b.Parent != nil {
		return b.Parent.LookupRule(name)
	}
	return nil
}

// LookupWithFallback looks up var in this scope's plain bindings; failing
// that, evaluates eval against env (used for edge-level bindings that
// shadow a rule-level template); failing that, walks the parent chain.
func (b *BindingEnv) LookupWithFallback(name string, eval *EvalString, env Env) string {
	if v, ok := b.Bindings[name]; ok {
		return v
	}
	if eval != nil {
		return eval.Evaluate(env)
	}
	if b.Parent != nil {
		return b.Parent.LookupVariable(name)
	}
	return ""
}
