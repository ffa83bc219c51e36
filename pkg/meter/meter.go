// Package meter measures the difference between two compatible images.
package meter

import (
	"fmt"
	"math"

	"github.com/jpfielding/imgdiff.go/pkg/layout"
)

// Result holds the error measures of one component, or of the whole image
// for the totals returned by Compare.
type Result struct {
	Samples int
	// MSE is the mean squared difference of the sample values.
	MSE float64
	// PSNR in dB relative to Peak; +Inf for identical data.
	PSNR float64
	// Peak is the signal range: the full integer range, or 1 for floats.
	Peak float64
	// MaxError is the largest absolute difference.
	MaxError float64
	// Differing counts the samples that are not equal.
	Differing int
}

func (r Result) String() string {
	return fmt.Sprintf("mse %.6g psnr %.4g dB peak error %.6g differing %d/%d", r.MSE, r.PSNR, r.MaxError, r.Differing, r.Samples)
}

// Identical reports whether every sample matched.
func (r Result) Identical() bool { return r.Differing == 0 }

// Compare measures b against a per component and over all components. The
// images must pass layout.CheckCompatible.
func Compare(a, b *layout.Image) ([]Result, Result, error) {
	if err := layout.CheckCompatible(a, b); err != nil {
		return nil, Result{}, err
	}
	per := make([]Result, a.Depth())
	var total Result
	var sum float64
	for i, ca := range a.Components {
		cb := b.Components[i]
		r := Result{Peak: peak(ca)}
		var se float64
		for y := range ca.Height {
			for x := range ca.Width {
				d := math.Abs(ca.Float64(x, y) - cb.Float64(x, y))
				if d != 0 || ca.Raw(x, y) != cb.Raw(x, y) {
					r.Differing++
				}
				se += d * d
				r.MaxError = max(r.MaxError, d)
				r.Samples++
			}
		}
		r.MSE = se / float64(r.Samples)
		r.PSNR = psnr(r.MSE, r.Peak)
		per[i] = r

		// the total normalises by each component's peak
		sum += se / (r.Peak * r.Peak)
		total.Samples += r.Samples
		total.Differing += r.Differing
		total.MaxError = max(total.MaxError, r.MaxError/r.Peak)
	}
	total.Peak = 1
	total.MSE = sum / float64(total.Samples)
	total.PSNR = psnr(total.MSE, 1)
	return per, total, nil
}

func peak(c *layout.Component) float64 {
	if c.Float {
		return 1
	}
	return float64(c.Max() - c.Min())
}

func psnr(mse, peak float64) float64 {
	if mse == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(peak*peak/mse)
}
