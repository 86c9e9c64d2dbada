// Package decoder runs the rotation and filter retry loop around an opaque
// QR decode capability.
package decoder

import (
	"context"
	"fmt"
	"image"
	"strings"

	"qrrename/internal/filters"
	"qrrename/internal/imageio"
)

// Capability decodes every QR code visible in an image. It returns no
// payloads and a nil error when nothing is found; a non-nil error means the
// attempt itself could not be made.
type Capability interface {
	Decode(img image.Image) ([]string, error)
}

// Status tags the outcome of a single attempt
type Status int

const (
	NotFound Status = iota
	Found
	Failed
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Failed:
		return "failed"
	default:
		return "not-found"
	}
}

// Attempt records one angle/filter combination
type Attempt struct {
	Angle   int
	Filters []string
	Status  Status
	Payload string
	Err     error
}

func (a Attempt) String() string {
	name := "none"
	if len(a.Filters) > 0 {
		name = strings.Join(a.Filters, "+")
	}
	return fmt.Sprintf("angle=%d filters=%s %s", a.Angle, name, a.Status)
}

// Result is the accepted payload and the attempt that produced it
type Result struct {
	Payload  string
	Angle    int
	Filters  []string
	Attempts []Attempt
}

// Options configures the retry loop
type Options struct {
	// Angles are tried in order; empty means [0].
	Angles []int
	Chain  filters.Chain
	// EachFilter tries every filter of Chain on its own instead of the
	// whole chain at once.
	EachFilter bool
	// Accept rejects payloads that cannot be used; a rejected payload
	// counts as not found. Nil accepts every non-empty payload.
	Accept func(payload string) bool
}

// RotationDecoder tries angle × filter combinations until one yields an
// accepted payload. It holds no per-image state and is safe for concurrent use.
type RotationDecoder struct {
	capability Capability
	angles     []int
	variants   []filters.Chain
	accept     func(string) bool
}

// NewRotationDecoder creates a new rotation decoder
func NewRotationDecoder(capability Capability, opts Options) *RotationDecoder {
	angles := opts.Angles
	if len(angles) == 0 {
		angles = []int{0}
	}
	accept := opts.Accept
	if accept == nil {
		accept = func(p string) bool { return p != "" }
	}

	return &RotationDecoder{
		capability: capability,
		angles:     angles,
		variants:   opts.Chain.Variants(opts.EachFilter),
		accept:     accept,
	}
}

// Attempts returns the number of attempts made for an image that never decodes
func (d *RotationDecoder) Attempts() int {
	return len(d.angles) * len(d.variants)
}

// Decode runs the retry loop. The context is checked before every attempt;
// when it is done the attempts made so far are returned in a DecodeError
// wrapping the context error.
func (d *RotationDecoder) Decode(ctx context.Context, img image.Image) (*Result, error) {
	attempts := make([]Attempt, 0, d.Attempts())

	for _, angle := range d.angles {
		if err := ctx.Err(); err != nil {
			return nil, &DecodeError{Attempts: attempts, Err: err}
		}
		rotated := imageio.Rotate(img, angle)

		for _, chain := range d.variants {
			if err := ctx.Err(); err != nil {
				return nil, &DecodeError{Attempts: attempts, Err: err}
			}

			attempt := d.try(rotated, angle, chain)
			attempts = append(attempts, attempt)

			if attempt.Status == Found {
				return &Result{
					Payload:  attempt.Payload,
					Angle:    angle,
					Filters:  attempt.Filters,
					Attempts: attempts,
				}, nil
			}
		}
	}

	return nil, &DecodeError{Attempts: attempts}
}

func (d *RotationDecoder) try(img image.Image, angle int, chain filters.Chain) Attempt {
	attempt := Attempt{Angle: angle, Filters: chain.Names()}

	payloads, err := d.capability.Decode(chain.Apply(img))
	if err != nil {
		attempt.Status = Failed
		attempt.Err = err
		return attempt
	}

	for _, p := range payloads {
		if d.accept(p) {
			attempt.Status = Found
			attempt.Payload = p
			return attempt
		}
	}
	attempt.Status = NotFound
	return attempt
}

// DecodeError reports that no attempt produced an accepted payload
type DecodeError struct {
	Attempts []Attempt
	// Err is set when the loop stopped early, e.g. on cancellation.
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode stopped after %d attempts: %v", len(e.Attempts), e.Err)
	}
	failed := 0
	for _, a := range e.Attempts {
		if a.Status == Failed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Sprintf("no QR code found in %d attempts (%d failed)", len(e.Attempts), failed)
	}
	return fmt.Sprintf("no QR code found in %d attempts", len(e.Attempts))
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
