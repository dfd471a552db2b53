// Package fixtures holds contracts used by the engine's tests.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Greeter is a context-first contract with a plain value member.
type Greeter interface {
	Greet(ctx context.Context, name string) (string, error)
	Name() string
}

// Closer is used as an additional interface and as a mixin.
type Closer interface {
	Close() error
}

// Named collides with Greeter.Name.
type Named interface {
	Name() string
}

// Labeled collides with Greeter.Name using a different signature.
type Labeled interface {
	Name() (string, error)
}

// Buffer exercises ref, span and variadic parameters.
type Buffer interface {
	Fill(dst []byte, b byte) int
	Swap(a *int, b *int)
	Join(sep string, parts ...string) string
	Next(cursor *int) (string, error)
}

// Repo is a generic contract.
type Repo[T any] interface {
	Get(id int) (T, error)
	Put(id int, v T) error
}

// ErrUnknownName is returned by EnglishGreeter for an empty name.
var ErrUnknownName = errors.New("unknown name")

// EnglishGreeter greets in English and counts calls.
type EnglishGreeter struct {
	Calls  int
	Closed bool
}

func (g *EnglishGreeter) Greet(_ context.Context, name string) (string, error) {
	g.Calls++
	if name == "" {
		return "", ErrUnknownName
	}
	return "Hello, " + name, nil
}

func (g *EnglishGreeter) Name() string { return "english" }

func (g *EnglishGreeter) Close() error {
	g.Closed = true
	return nil
}

// PlainGreeter implements Greeter but not Closer.
type PlainGreeter struct{}

func (PlainGreeter) Greet(_ context.Context, name string) (string, error) {
	return "Hi " + name, nil
}

func (PlainGreeter) Name() string { return "plain" }

// CloseRecorder is a Closer mixin.
type CloseRecorder struct {
	Closed int
}

func (c *CloseRecorder) Close() error {
	c.Closed++
	return nil
}

// MemoryBuffer is a straightforward Buffer.
type MemoryBuffer struct {
	Items []string
}

func (MemoryBuffer) Fill(dst []byte, b byte) int {
	for i := range dst {
		dst[i] = b
	}
	return len(dst)
}

func (MemoryBuffer) Swap(a *int, b *int) {
	*a, *b = *b, *a
}

func (MemoryBuffer) Join(sep string, parts ...string) string {
	return strings.Join(parts, sep)
}

func (m *MemoryBuffer) Next(cursor *int) (string, error) {
	if *cursor >= len(m.Items) {
		return "", fmt.Errorf("cursor %d past end", *cursor)
	}
	item := m.Items[*cursor]
	*cursor++
	return item, nil
}

// MapRepo is an in-memory Repo.
type MapRepo[T any] struct {
	Items map[int]T
}

func NewMapRepo[T any]() *MapRepo[T] {
	return &MapRepo[T]{Items: make(map[int]T)}
}

func (r *MapRepo[T]) Get(id int) (T, error) {
	v, ok := r.Items[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("id %d not found", id)
	}
	return v, nil
}

func (r *MapRepo[T]) Put(id int, v T) error {
	r.Items[id] = v
	return nil
}

// Calculator is an extensible struct with a method that cannot be
// intercepted.
type Calculator struct {
	Add   func(a, b int) int
	Div   func(a, b int) (int, error)
	Scale int
	label string
}

// NewCalculator returns a Calculator with working members.
func NewCalculator(label string) *Calculator {
	return &Calculator{
		Add: func(a, b int) int { return a + b },
		Div: func(a, b int) (int, error) {
			if b == 0 {
				return 0, errors.New("division by zero")
			}
			return a / b, nil
		},
		Scale: 1,
		label: label,
	}
}

// Twice doubles a through Add.
func (c *Calculator) Twice(a int) int {
	return c.Add(a, a) * c.Scale
}

// Label returns the unexported label.
func (c *Calculator) Label() string {
	return c.label
}

// PureCalc has only func members.
type PureCalc struct {
	Add    func(a, b int) int
	Negate func(a int) int
	Sum    func(values ...int) int
	Lookup func(key string) *Entry
}

// Entry is a struct result; pointers to it travel as plain values.
type Entry struct {
	Key   string
	Value int
}
