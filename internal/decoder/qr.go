package decoder

import (
	"fmt"
	"image"
	"sort"

	"github.com/makiuchi-d/gozxing"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// QRReader is the gozxing backed Capability
type QRReader struct {
	tryHarder bool
}

// NewQRReader creates a new QR reader
func NewQRReader(tryHarder bool) *QRReader {
	return &QRReader{tryHarder: tryHarder}
}

func (r *QRReader) hints() map[gozxing.DecodeHintType]interface{} {
	if !r.tryHarder {
		return nil
	}
	return map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
}

// Decode returns the text of every QR code in img, topmost first and then
// leftmost. gozxing reports "not found", checksum and format problems as
// errors; those are all treated as no code.
func (r *QRReader) Decode(img image.Image) ([]string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("creating bitmap: %w", err)
	}

	results, err := multiqr.NewQRCodeMultiReader().DecodeMultiple(bmp, r.hints())
	if err != nil || len(results) == 0 {
		// The multi reader skips codes whose finder patterns it cannot
		// group; the single reader still finds those.
		result, err := qrcode.NewQRCodeReader().Decode(bmp, r.hints())
		if err != nil {
			return nil, nil
		}
		results = []*gozxing.Result{result}
	}

	sortResults(results)

	payloads := make([]string, 0, len(results))
	for _, res := range results {
		payloads = append(payloads, res.GetText())
	}
	return payloads, nil
}

func sortResults(results []*gozxing.Result) {
	type key struct {
		y, x float64
		text string
	}
	keys := make(map[*gozxing.Result]key, len(results))
	for _, res := range results {
		k := key{text: res.GetText()}
		for i, p := range res.GetResultPoints() {
			if i == 0 || p.GetY() < k.y {
				k.y = p.GetY()
			}
			if i == 0 || p.GetX() < k.x {
				k.x = p.GetX()
			}
		}
		keys[res] = k
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := keys[results[i]], keys[results[j]]
		if a.y != b.y {
			return a.y < b.y
		}
		if a.x != b.x {
			return a.x < b.x
		}
		return a.text < b.text
	})
}
