// Package functions holds the remote functions this service can answer and
// the registry the batch service resolves them from.
package functions

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/navikt/bq-remote-functions/pkg/errs"
	"github.com/navikt/bq-remote-functions/pkg/remotefn"
)

var nameRegexp = regexp.MustCompile(`^[a-z][a-z0-9_]{0,127}$`)

// Func evaluates one row. The returned value must already be in its reply
// encoding, see the remotefn reply helpers.
type Func func(ctx context.Context, args remotefn.Args, udc map[string]string) (any, error)

type Argument struct {
	Name string        `json:"name"`
	Type remotefn.Type `json:"type"`
}

func (a Argument) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Name, validation.Required, validation.Match(nameRegexp)),
		validation.Field(&a.Type),
	)
}

type Definition struct {
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Arguments     []Argument    `json:"arguments"`
	ReturnType    remotefn.Type `json:"returnType"`
	Deterministic bool          `json:"deterministic"`
	Fn            Func          `json:"-"`
}

func (d Definition) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required, validation.Match(nameRegexp)),
		validation.Field(&d.Arguments),
		validation.Field(&d.ReturnType),
		validation.Field(&d.Fn, validation.By(func(_ interface{}) error {
			if d.Fn == nil {
				return validation.ErrRequired
			}

			return nil
		})),
	)
}

// Arity is the number of arguments each row must carry.
func (d *Definition) Arity() int {
	return len(d.Arguments)
}

type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{
		defs: map[string]*Definition{},
	}
}

func (r *Registry) Register(def *Definition) error {
	const op errs.Op = "Registry.Register"

	if def == nil {
		return errs.E(errs.Invalid, op, "nil definition")
	}

	err := def.Validate()
	if err != nil {
		return errs.E(errs.Validation, op, errs.Parameter(def.Name), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.defs[def.Name]; ok {
		return errs.E(errs.Exist, op, errs.Parameter(def.Name), fmt.Errorf("function %s is already registered", def.Name))
	}

	r.defs[def.Name] = def

	return nil
}

// MustRegister is Register for wiring at startup.
func (r *Registry) MustRegister(defs ...*Definition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Lookup(name string) (*Definition, error) {
	const op errs.Op = "Registry.Lookup"

	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[name]
	if !ok {
		return nil, errs.E(errs.NotExist, op, errs.Parameter("function"), fmt.Errorf("no function named %q", name))
	}

	return def, nil
}

// List returns the registered definitions sorted by name.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})

	return out
}
