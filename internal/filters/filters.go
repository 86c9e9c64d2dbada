// Package filters holds the named image transforms that can be applied
// before each decode attempt. Every filter is a pure function of its input,
// so a parsed Chain can be shared by all workers.
package filters

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/gift"
	"github.com/disintegration/imaging"
)

// Keywords accepted in place of filter names
const (
	None = "none"
	All  = "all"
)

// Filter is a named transform
type Filter struct {
	Name  string
	Apply func(image.Image) image.Image
}

// Kernels from PIL's ImageFilter module, kept so configurations written for
// the original script behave the same.
var (
	blurKernel = []float32{
		1, 1, 1, 1, 1,
		1, 0, 0, 0, 1,
		1, 0, 0, 0, 1,
		1, 0, 0, 0, 1,
		1, 1, 1, 1, 1,
	}
	smoothMoreKernel = []float32{
		1, 1, 1, 1, 1,
		1, 5, 5, 5, 1,
		1, 5, 44, 5, 1,
		1, 5, 5, 5, 1,
		1, 1, 1, 1, 1,
	}
	detailKernel = []float32{
		0, -1, 0,
		-1, 10, -1,
		0, -1, 0,
	}
	edgeEnhanceMoreKernel = []float32{
		-1, -1, -1,
		-1, 9, -1,
		-1, -1, -1,
	}
	sharpenKernel = []float32{
		-2, -2, -2,
		-2, 32, -2,
		-2, -2, -2,
	}
)

// registry is ordered; "all" expands in this order.
var registry = []Filter{
	{Name: "blur", Apply: giftFilter(gift.Convolution(blurKernel, true, false, false, 0))},
	{Name: "smooth", Apply: giftFilter(gift.Convolution(smoothMoreKernel, true, false, false, 0))},
	{Name: "detail", Apply: giftFilter(gift.Convolution(detailKernel, true, false, false, 0))},
	{Name: "edges", Apply: giftFilter(gift.Convolution(edgeEnhanceMoreKernel, true, false, false, 0))},
	{Name: "sharpen", Apply: giftFilter(gift.Convolution(sharpenKernel, true, false, false, 0))},
	{Name: "gaussian", Apply: func(img image.Image) image.Image { return imaging.Blur(img, 1.0) }},
	{Name: "contrast", Apply: func(img image.Image) image.Image { return imaging.AdjustContrast(img, 30) }},
	{Name: "threshold", Apply: giftFilter(gift.Threshold(50))},
	{Name: "invert", Apply: giftFilter(gift.Invert())},
}

// identity stands for "none": the unfiltered image
var identity = Filter{Name: None, Apply: func(img image.Image) image.Image { return img }}

func giftFilter(f gift.Filter) func(image.Image) image.Image {
	g := gift.New(f)
	return func(src image.Image) image.Image {
		dst := image.NewNRGBA(g.Bounds(src.Bounds()))
		g.Draw(dst, src)
		return dst
	}
}

// Names returns the registered filter names in registry order
func Names() []string {
	names := make([]string, len(registry))
	for i, f := range registry {
		names[i] = f.Name
	}
	return names
}

func lookup(name string) (Filter, bool) {
	for _, f := range registry {
		if f.Name == name {
			return f, true
		}
	}
	return Filter{}, false
}

// Chain is an ordered, validated sequence of filters
type Chain []Filter

// Parse validates names and builds a Chain. "none" is kept as an identity
// entry and "all" expands to every registered filter. Unknown names are an
// *UnknownFilterError.
func Parse(names []string) (Chain, error) {
	var chain Chain
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "":
			continue
		case None:
			chain = append(chain, identity)
			continue
		case All:
			chain = append(chain, registry...)
			continue
		}

		f, ok := lookup(name)
		if !ok {
			return nil, &UnknownFilterError{Name: raw}
		}
		chain = append(chain, f)
	}
	return chain, nil
}

// Apply runs every filter in order and returns the result. An empty chain
// returns img itself.
func (c Chain) Apply(img image.Image) image.Image {
	for _, f := range c {
		img = f.Apply(img)
	}
	return img
}

// Names returns the filter names of the chain
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, f := range c {
		names[i] = f.Name
	}
	return names
}

// Variants returns the chains to try at each angle. In chain mode that is the
// whole chain once, with "none" entries dropped. In each mode it is every
// filter on its own, and "none" becomes an unfiltered attempt. Both modes
// yield a single empty chain when no filters are configured.
func (c Chain) Variants(each bool) []Chain {
	if !each {
		var filtered Chain
		for _, f := range c {
			if f.Name != None {
				filtered = append(filtered, f)
			}
		}
		return []Chain{filtered}
	}
	if len(c) == 0 {
		return []Chain{nil}
	}

	variants := make([]Chain, len(c))
	for i := range c {
		if c[i].Name == None {
			variants[i] = Chain{}
			continue
		}
		variants[i] = c[i : i+1]
	}
	return variants
}

// UnknownFilterError reports a filter name that is not registered
type UnknownFilterError struct {
	Name string
}

func (e *UnknownFilterError) Error() string {
	return fmt.Sprintf("unknown filter %q (available: %s, %s, %s)", e.Name, strings.Join(Names(), ", "), None, All)
}
