// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package shrink

import (
	"fmt"
	"path"
	"strings"

	"github.com/dotandev/shrinkwrap/internal/errors"
	"github.com/dotandev/shrinkwrap/internal/logger"
)

const (
	InitName   = "<init>"
	ClinitName = "<clinit>"
	ClinitDesc = "()V"
)

// MemberKey identifies a method or field within a class.
type MemberKey struct {
	Name string
	Desc string
}

func (k MemberKey) String() string { return k.Name + k.Desc }

// MemberInfo describes a declared method or field.
type MemberInfo struct {
	Name    string
	Desc    string
	Static  bool
	Private bool
}

func (m MemberInfo) Key() MemberKey { return MemberKey{Name: m.Name, Desc: m.Desc} }

// ClassInfo is the format-neutral view of a class used to build the
// hierarchy. Names use the internal slash form, e.g. "java/lang/Object".
type ClassInfo struct {
	Name       string
	Super      string
	Interfaces []string
	Interface  bool
	Library    bool
	Methods    []MemberInfo
	Fields     []MemberInfo
}

type classNode struct {
	info    ClassInfo
	phantom bool
	subs    []string
	methods map[MemberKey]MemberInfo
	fields  map[MemberKey]MemberInfo
}

// Hierarchy holds super, interface and subclass edges. It is built once and
// not modified afterwards.
type Hierarchy struct {
	nodes map[string]*classNode
	order []string
}

// NewHierarchy indexes classes. A name that is referenced as a super type
// but not supplied becomes a phantom library class whose members are
// unknown.
func NewHierarchy(classes []ClassInfo) *Hierarchy {
	h := &Hierarchy{nodes: make(map[string]*classNode)}
	for _, c := range classes {
		if _, dup := h.nodes[c.Name]; dup {
			logger.Logger.Warn("Duplicate class definition ignored", "class", c.Name)
			continue
		}
		n := &classNode{
			info:    c,
			methods: make(map[MemberKey]MemberInfo, len(c.Methods)),
			fields:  make(map[MemberKey]MemberInfo, len(c.Fields)),
		}
		for _, m := range c.Methods {
			n.methods[m.Key()] = m
		}
		for _, f := range c.Fields {
			n.fields[f.Key()] = f
		}
		h.nodes[c.Name] = n
		h.order = append(h.order, c.Name)
	}
	for _, name := range h.order {
		n := h.nodes[name]
		for _, sup := range n.supertypes() {
			sn := h.node(sup)
			sn.subs = append(sn.subs, name)
		}
	}
	return h
}

func (n *classNode) supertypes() []string {
	var out []string
	if n.info.Super != "" {
		out = append(out, n.info.Super)
	}
	return append(out, n.info.Interfaces...)
}

// node returns the named class, creating a phantom if needed.
func (h *Hierarchy) node(name string) *classNode {
	n, ok := h.nodes[name]
	if !ok {
		n = &classNode{
			info:    ClassInfo{Name: name, Library: true},
			phantom: true,
		}
		h.nodes[name] = n
		h.order = append(h.order, name)
	}
	return n
}

// Class returns the info of a known class.
func (h *Hierarchy) Class(name string) (ClassInfo, bool) {
	n, ok := h.nodes[name]
	if !ok {
		return ClassInfo{}, false
	}
	return n.info, true
}

// IsPhantom reports whether name was only ever referenced.
func (h *Hierarchy) IsPhantom(name string) bool {
	n, ok := h.nodes[name]
	return !ok || n.phantom
}

// Classes returns every class name, phantoms included, in insertion order.
func (h *Hierarchy) Classes() []string {
	return append([]string(nil), h.order...)
}

// Supertypes returns all transitive super classes and interfaces of name.
func (h *Hierarchy) Supertypes(name string) []string {
	var out []string
	seen := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		n, ok := h.nodes[queue[0]]
		queue = queue[1:]
		if !ok {
			continue
		}
		for _, s := range n.supertypes() {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
				queue = append(queue, s)
			}
		}
	}
	return out
}

// Descendants returns every class that transitively extends or implements
// name.
func (h *Hierarchy) Descendants(name string) []string {
	var out []string
	seen := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		n, ok := h.nodes[queue[0]]
		queue = queue[1:]
		if !ok {
			continue
		}
		for _, s := range n.subs {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
				queue = append(queue, s)
			}
		}
	}
	return out
}

// resolve finds the class that declares key as seen from class: the class
// itself, then its super chain, then its interfaces. A phantom on the way
// may declare anything and ends the search.
func (h *Hierarchy) resolve(class string, key MemberKey, fields bool) (string, bool) {
	for c := class; c != ""; {
		n, ok := h.nodes[c]
		if !ok || n.phantom {
			return c, true
		}
		if n.declares(key, fields) {
			return c, true
		}
		c = n.info.Super
	}
	for _, s := range h.Supertypes(class) {
		n := h.nodes[s]
		if n.phantom || n.declares(key, fields) {
			return s, true
		}
	}
	return "", false
}

func (n *classNode) declares(key MemberKey, fields bool) bool {
	if fields {
		_, ok := n.fields[key]
		return ok
	}
	_, ok := n.methods[key]
	return ok
}

// MemberRef names a member of a specific class.
type MemberRef struct {
	Class string
	MemberKey
}

func (r MemberRef) String() string { return r.Class + "." + r.Name + r.Desc }

// MethodMarker marks classes, methods and fields of a hierarchy, following
// virtual dispatch. OnMark is called once for every newly marked program
// method so the caller can scan its code for further references.
type MethodMarker struct {
	h       *Hierarchy
	classes map[string]bool
	methods map[MemberRef]bool
	fields  map[MemberRef]bool
	pending []MemberRef
	busy    bool

	OnMark func(MemberRef) error
}

func NewMethodMarker(h *Hierarchy, onMark func(MemberRef) error) *MethodMarker {
	return &MethodMarker{
		h:       h,
		classes: make(map[string]bool),
		methods: make(map[MemberRef]bool),
		fields:  make(map[MemberRef]bool),
		OnMark:  onMark,
	}
}

func (m *MethodMarker) ClassUsed(name string) bool { return m.classes[name] }

func (m *MethodMarker) MethodUsed(class, name, desc string) bool {
	return m.methods[MemberRef{Class: class, MemberKey: MemberKey{Name: name, Desc: desc}}]
}

func (m *MethodMarker) FieldUsed(class, name, desc string) bool {
	return m.fields[MemberRef{Class: class, MemberKey: MemberKey{Name: name, Desc: desc}}]
}

// UseClass keeps a class, its super types and its static initializer.
func (m *MethodMarker) UseClass(name string) error {
	return m.run(func() error { return m.useClass(name) })
}

// MarkClass keeps a class with every member it declares.
func (m *MethodMarker) MarkClass(name string) error {
	return m.run(func() error { return m.markClass(name) })
}

// MarkMethod keeps the method that a call to class.name desc resolves to
// and every override reachable through dispatch.
func (m *MethodMarker) MarkMethod(class, name, desc string) error {
	return m.run(func() error { return m.markMethod(class, MemberKey{Name: name, Desc: desc}) })
}

// MarkField keeps the field that an access to class.name desc resolves to.
func (m *MethodMarker) MarkField(class, name, desc string) error {
	return m.run(func() error {
		key := MemberKey{Name: name, Desc: desc}
		if err := m.useClass(class); err != nil {
			return err
		}
		owner, ok := m.h.resolve(class, key, true)
		if !ok {
			logger.Logger.Debug("Unresolved field reference", "class", class, "field", key.String())
			return nil
		}
		if err := m.useClass(owner); err != nil {
			return err
		}
		m.fields[MemberRef{Class: owner, MemberKey: key}] = true
		return nil
	})
}

// MarkRoots marks library classes, program methods that may override a
// phantom, and everything matched by keep rules.
func (m *MethodMarker) MarkRoots(keep []KeepRule) error {
	return m.run(func() error {
		for _, name := range m.h.Classes() {
			n := m.h.nodes[name]
			if n.info.Library {
				if err := m.markClass(name); err != nil {
					return err
				}
				continue
			}
			if err := m.markPhantomOverrides(name); err != nil {
				return err
			}
		}
		for _, name := range m.h.Classes() {
			n := m.h.nodes[name]
			if n.info.Library {
				continue
			}
			for _, rule := range keep {
				if !rule.MatchClass(name) {
					continue
				}
				if rule.Member == "" {
					if err := m.markClass(name); err != nil {
						return err
					}
					continue
				}
				for key := range n.methods {
					if rule.MatchMember(key) {
						if err := m.markMethod(name, key); err != nil {
							return err
						}
					}
				}
				for key := range n.fields {
					if rule.MatchMember(key) {
						if err := m.useClass(name); err != nil {
							return err
						}
						m.fields[MemberRef{Class: name, MemberKey: key}] = true
					}
				}
			}
		}
		return nil
	})
}

func (m *MethodMarker) markPhantomOverrides(name string) error {
	phantom := false
	for _, s := range m.h.Supertypes(name) {
		if m.h.IsPhantom(s) {
			phantom = true
			break
		}
	}
	if !phantom {
		return nil
	}
	n := m.h.nodes[name]
	for key, info := range n.methods {
		if overridable(info) {
			if err := m.markMethod(name, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// run drains the pending queue after fn unless an outer call is already
// draining it.
func (m *MethodMarker) run(fn func() error) error {
	if err := fn(); err != nil {
		return err
	}
	if m.busy {
		return nil
	}
	m.busy = true
	defer func() { m.busy = false }()
	for len(m.pending) > 0 {
		ref := m.pending[0]
		m.pending = m.pending[1:]
		if m.OnMark == nil {
			continue
		}
		if err := m.OnMark(ref); err != nil {
			m.pending = nil
			return fmt.Errorf("scanning %s: %w", ref, err)
		}
	}
	return nil
}

func (m *MethodMarker) useClass(name string) error {
	if m.classes[name] {
		return nil
	}
	m.classes[name] = true
	for _, s := range m.h.Supertypes(name) {
		m.classes[s] = true
	}
	n, ok := m.h.nodes[name]
	if !ok || n.phantom {
		return nil
	}
	if _, ok := n.methods[MemberKey{Name: ClinitName, Desc: ClinitDesc}]; ok {
		m.mark(name, MemberKey{Name: ClinitName, Desc: ClinitDesc})
	}
	for _, s := range m.h.Supertypes(name) {
		if sn := m.h.nodes[s]; !sn.phantom {
			if _, ok := sn.methods[MemberKey{Name: ClinitName, Desc: ClinitDesc}]; ok {
				m.mark(s, MemberKey{Name: ClinitName, Desc: ClinitDesc})
			}
		}
	}
	return nil
}

func (m *MethodMarker) markClass(name string) error {
	if err := m.useClass(name); err != nil {
		return err
	}
	n := m.h.nodes[name]
	if n == nil || n.phantom {
		return nil
	}
	for key := range n.methods {
		if err := m.markMethod(name, key); err != nil {
			return err
		}
	}
	for key := range n.fields {
		m.fields[MemberRef{Class: name, MemberKey: key}] = true
	}
	return nil
}

func (m *MethodMarker) markMethod(class string, key MemberKey) error {
	if err := m.useClass(class); err != nil {
		return err
	}
	owner, ok := m.h.resolve(class, key, false)
	if !ok {
		logger.Logger.Debug("Unresolved method reference", "class", class, "method", key.String())
		return nil
	}
	if err := m.useClass(owner); err != nil {
		return err
	}
	if !m.mark(owner, key) {
		return nil
	}
	on := m.h.nodes[owner]
	if !on.phantom && !overridable(on.methods[key]) {
		return nil
	}
	for _, d := range m.h.Descendants(owner) {
		dn := m.h.nodes[d]
		if dn.phantom {
			continue
		}
		if info, ok := dn.methods[key]; ok && !info.Static && !info.Private {
			if err := m.useClass(d); err != nil {
				return err
			}
			m.mark(d, key)
		}
		if on.info.Interface && !dn.info.Interface {
			if err := m.markInherited(d, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// markInherited marks the implementation class inherits for key through
// its super class chain.
func (m *MethodMarker) markInherited(class string, key MemberKey) error {
	for c := m.h.nodes[class].info.Super; c != ""; {
		n, ok := m.h.nodes[c]
		if !ok || n.phantom {
			return nil
		}
		if info, ok := n.methods[key]; ok {
			if info.Static || info.Private {
				return nil
			}
			m.mark(c, key)
			return nil
		}
		c = n.info.Super
	}
	return nil
}

// mark records a method and queues it for scanning. It reports whether the
// method was new.
func (m *MethodMarker) mark(class string, key MemberKey) bool {
	ref := MemberRef{Class: class, MemberKey: key}
	if m.methods[ref] {
		return false
	}
	m.methods[ref] = true
	m.classes[class] = true
	m.pending = append(m.pending, ref)
	return true
}

func overridable(info MemberInfo) bool {
	return info.Name != InitName && info.Name != ClinitName && !info.Static && !info.Private
}

// KeepRule selects classes and members that must survive shrinking. The
// textual form is "class[#member[descriptor]]". The class part is a
// path.Match pattern; a trailing "**" matches any suffix, including
// slashes. An empty member keeps the whole class.
type KeepRule struct {
	Class  string
	Member string
	Desc   string
}

// ParseKeepRule parses one keep rule.
func ParseKeepRule(s string) (KeepRule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return KeepRule{}, errors.WrapConfigError("empty keep rule", nil)
	}
	class, member, _ := strings.Cut(s, "#")
	r := KeepRule{Class: strings.ReplaceAll(class, ".", "/")}
	if i := strings.IndexByte(member, '('); i >= 0 {
		r.Member, r.Desc = member[:i], member[i:]
	} else {
		r.Member = member
	}
	if !strings.HasSuffix(r.Class, "**") {
		if _, err := path.Match(r.Class, ""); err != nil {
			return KeepRule{}, errors.WrapConfigError(fmt.Sprintf("keep rule %q", s), err)
		}
	}
	return r, nil
}

// ParseKeepRules parses a list of rules, stopping at the first bad one.
func ParseKeepRules(rules []string) ([]KeepRule, error) {
	out := make([]KeepRule, 0, len(rules))
	for _, s := range rules {
		r, err := ParseKeepRule(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (r KeepRule) MatchClass(name string) bool {
	if prefix, ok := strings.CutSuffix(r.Class, "**"); ok {
		return strings.HasPrefix(name, prefix)
	}
	ok, _ := path.Match(r.Class, name)
	return ok
}

func (r KeepRule) MatchMember(key MemberKey) bool {
	if ok, _ := path.Match(r.Member, key.Name); !ok {
		return false
	}
	return r.Desc == "" || r.Desc == key.Desc
}

func (r KeepRule) String() string {
	if r.Member == "" {
		return r.Class
	}
	return r.Class + "#" + r.Member + r.Desc
}
