// Package delta models the opaque operational-transform document change
// carried as each Merkle leaf's payload. The engine does not interpret
// delta internals beyond detecting formatting attributes and validating
// structural shape against a JSON Schema; actual composition is delegated
// to an injected Composer (see package composer).
package delta

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ciphernom/bitquill/pkg/bqerr"
	"github.com/ciphernom/bitquill/pkg/canon"
)

// OpKind enumerates the three operational-transform primitives a Delta may
// carry. FORMAT is not a wire kind; Delta.Kind reports it for a delta
// with no insert or delete op, such as Retain ops carrying Attributes.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpRetain OpKind = "retain"
	OpDelete OpKind = "delete"
)

// EditKind classifies a whole Delta for analyzer and metadata purposes.
type EditKind string

const (
	EditInsert  EditKind = "INSERT"
	EditDelete  EditKind = "DELETE"
	EditReplace EditKind = "REPLACE"
	EditFormat  EditKind = "FORMAT"
)

// Op is a single operational-transform operation.
type Op struct {
	Kind       OpKind         `json:"kind"`
	Insert     string         `json:"insert,omitempty"`
	Retain     int            `json:"retain,omitempty"`
	Delete     int            `json:"delete,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Delta is the opaque, canonicalizable payload attached to an edit leaf.
type Delta struct {
	Ops []Op `json:"ops"`
}

// Empty returns the zero-operation Delta used for a genesis leaf.
func Empty() Delta { return Delta{Ops: []Op{}} }

// HasFormatting reports whether any operation carries attributes, the
// advisory metadata flag spec.md §4.2 requires without otherwise
// interpreting delta internals.
func (d Delta) HasFormatting() bool {
	for _, op := range d.Ops {
		if len(op.Attributes) > 0 {
			return true
		}
	}
	return false
}

// Kind classifies the delta as INSERT, DELETE, REPLACE, or FORMAT for
// analyzer/metadata purposes: a pure-insert delta is INSERT, pure-delete is
// DELETE, a mix of insert and delete is REPLACE, and a delta whose only
// non-retain content is attribute-only formatting is FORMAT.
func (d Delta) Kind() EditKind {
	hasInsert, hasDelete, hasFormat := false, false, false
	for _, op := range d.Ops {
		switch op.Kind {
		case OpInsert:
			hasInsert = true
			if len(op.Attributes) > 0 && op.Insert == "" {
				hasFormat = true
			}
		case OpDelete:
			hasDelete = true
		case OpRetain:
			if len(op.Attributes) > 0 {
				hasFormat = true
			}
		}
	}
	switch {
	case hasInsert && hasDelete:
		return EditReplace
	case hasInsert:
		return EditInsert
	case hasDelete:
		return EditDelete
	case hasFormat:
		return EditFormat
	default:
		return EditFormat
	}
}

// Size is the character count touched by the delta: inserted runes plus
// deleted units, the size metric the analyzer's windowed statistics use.
func (d Delta) Size() int {
	n := 0
	for _, op := range d.Ops {
		switch op.Kind {
		case OpInsert:
			n += len([]rune(op.Insert))
		case OpDelete:
			n += op.Delete
		}
	}
	return n
}

// CanonicalBytes returns the RFC 8785 canonical JSON form of the delta,
// the exact bytes that feed the leaf hash per spec.md §3.
func (d Delta) CanonicalBytes() ([]byte, error) {
	if err := Validate(d); err != nil {
		return nil, err
	}
	return canon.Bytes(d)
}

const schemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["ops"],
  "properties": {
    "ops": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "kind": {"enum": ["insert", "retain", "delete"]},
          "insert": {"type": "string"},
          "retain": {"type": "integer", "minimum": 0},
          "delete": {"type": "integer", "minimum": 0},
          "attributes": {"type": "object"}
        }
      }
    }
  }
}`

var compiledSchema *jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://bitquill.schemas.local/delta.schema.json"
	if err := c.AddResource(url, strings.NewReader(schemaDoc)); err != nil {
		panic(fmt.Sprintf("delta: schema load failed: %v", err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("delta: schema compile failed: %v", err))
	}
	compiledSchema = compiled
}

// Validate checks d's structural shape against the delta JSON Schema. A
// violation raises a CanonicalizationError, since an invalid delta can
// never be reduced to a stable canonical byte form.
func Validate(d Delta) error {
	b, err := json.Marshal(d)
	if err != nil {
		return bqerr.New(bqerr.KindCanonicalization, bqerr.ClassFatal, "delta marshal failed", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return bqerr.New(bqerr.KindCanonicalization, bqerr.ClassFatal, "delta unmarshal failed", err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return bqerr.New(bqerr.KindCanonicalization, bqerr.ClassFatal, "delta schema validation failed", err)
	}
	return nil
}

// ParseCanonical decodes previously canonicalized delta bytes back into a
// Delta, validating shape along the way.
func ParseCanonical(b []byte) (Delta, error) {
	var d Delta
	if err := json.Unmarshal(b, &d); err != nil {
		return Delta{}, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "delta decode failed", err)
	}
	if err := Validate(d); err != nil {
		return Delta{}, err
	}
	return d, nil
}

// Composer is the injected capability the engine delegates composition
// to: merging an ordered sequence of deltas into a single composed delta.
// Implementations must be total, deterministic, and associative — see
// spec.md §4.2 and §9.
type Composer interface {
	Compose(ctx context.Context, deltas []Delta) (Delta, error)
}
