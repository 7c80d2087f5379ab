package protocols

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/payrouter/internal/txn"
)

var (
	ErrProtocolExists     = errors.New("protocols: protocol already exists")
	ErrInvalidDefinition  = errors.New("protocols: invalid definition")
	ErrEmptyProtocolTable = errors.New("protocols: empty protocol table")
)

// Definition identifies one terminal protocol variant.
type Definition struct {
	Name               string
	ApprovalCodeLength int
	Settlement         txn.SettlementClass
}

// Registry maps protocol names to definitions. It is never mutated after New
// returns, so concurrent lookups need no locking.
type Registry struct {
	items map[string]Definition
}

// New builds a registry from defs, rejecting invalid and duplicate entries.
func New(defs []Definition) (*Registry, error) {
	if len(defs) == 0 {
		return nil, ErrEmptyProtocolTable
	}
	items := make(map[string]Definition, len(defs))
	for _, def := range defs {
		if err := ValidateDefinition(def); err != nil {
			return nil, err
		}
		if _, ok := items[def.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrProtocolExists, def.Name)
		}
		items[def.Name] = def
	}
	return &Registry{items: items}, nil
}

// MustDefault returns the registry of the reference POS deployment.
func MustDefault() *Registry {
	r, err := New(DefaultDefinitions())
	if err != nil {
		panic(err)
	}
	return r
}

// ValidateDefinition checks the name, code length and settlement class.
func ValidateDefinition(def Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if def.ApprovalCodeLength <= 0 {
		return fmt.Errorf("%w: %q approval code length must be positive", ErrInvalidDefinition, def.Name)
	}
	if !def.Settlement.Valid() {
		return fmt.Errorf("%w: %q unknown settlement class %q", ErrInvalidDefinition, def.Name, def.Settlement)
	}
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.items[name]
	return def, ok
}

// List returns definitions ordered by name.
func (r *Registry) List() []Definition {
	if r == nil {
		return nil
	}
	list := make([]Definition, 0, len(r.items))
	for _, def := range r.items {
		list = append(list, def)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.items)
}
