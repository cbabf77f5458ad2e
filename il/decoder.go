// Package il provides low-level IL definitions and decoding.
package il

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// exprJSON is the on-disk form of an Expression.
type exprJSON struct {
	Op          Op        `json:"op"`
	Size        int       `json:"size"`
	Reg         Register  `json:"reg,omitempty"`
	Value       uint64    `json:"value,omitempty"`
	Src         *exprJSON `json:"src,omitempty"`
	Dest        *exprJSON `json:"dest,omitempty"`
	Left        *exprJSON `json:"left,omitempty"`
	Right       *exprJSON `json:"right,omitempty"`
	Target      int       `json:"target,omitempty"`
	FalseTarget int       `json:"false_target,omitempty"`
	Address     uint64    `json:"address,omitempty"`
}

type functionJSON struct {
	Name         string      `json:"name"`
	Arch         *Arch       `json:"arch,omitempty"`
	Instructions []*exprJSON `json:"instructions"`
}

// Decoder decodes IL functions from their JSON description.
type Decoder struct {
	r io.Reader
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads one function. A missing "arch" object yields DefaultArch.
func (d *Decoder) Decode() (*Function, error) {
	var raw functionJSON

	dec := json.NewDecoder(d.r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse IL function: %w", err)
	}

	fn := &Function{
		Name: raw.Name,
		Arch: DefaultArch(),
	}
	if raw.Arch != nil {
		fn.Arch = *raw.Arch
	}

	for i, rawInst := range raw.Instructions {
		if rawInst == nil {
			return nil, fmt.Errorf("instruction %d: empty expression", i)
		}

		inst, err := d.convert(rawInst)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}

		fn.Instructions = append(fn.Instructions, inst)
	}

	return fn, nil
}

func (d *Decoder) convert(raw *exprJSON) (*Expression, error) {
	if raw.Op == OpUnknown {
		return nil, fmt.Errorf("expression without op")
	}

	expr := &Expression{
		Op:          raw.Op,
		Size:        raw.Size,
		Reg:         raw.Reg,
		Value:       raw.Value,
		Target:      raw.Target,
		FalseTarget: raw.FalseTarget,
		Address:     raw.Address,
	}

	subs := []struct {
		raw *exprJSON
		dst **Expression
	}{
		{raw.Src, &expr.Src},
		{raw.Dest, &expr.Dest},
		{raw.Left, &expr.Left},
		{raw.Right, &expr.Right},
	}

	for _, sub := range subs {
		if sub.raw == nil {
			continue
		}

		converted, err := d.convert(sub.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", raw.Op, err)
		}
		*sub.dst = converted
	}

	return expr, nil
}

// ParseFunction decodes a single function from r.
func ParseFunction(r io.Reader) (*Function, error) {
	return NewDecoder(r).Decode()
}

// LoadFunction decodes a function from a JSON file.
func LoadFunction(path string) (*Function, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open IL file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseFunction(f)
}
