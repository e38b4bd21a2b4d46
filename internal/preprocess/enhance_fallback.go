//go:build !gocv
// +build !gocv

package preprocess

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// enhance runs the pure-Go approximation of the enhancement chain:
// a global histogram stretch stands in for CLAHE, grey-world white
// balance runs on the raw channels, denoising is skipped.
func (c *Chain) enhance(f types.Frame) ([]byte, error) {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	stretchContrast(data)
	greyWorldBalance(data)

	return resizeRGB(data, f.Width, f.Height, c.opts.TargetSize), nil
}

// stretchContrast linearly maps the 2nd..98th luma percentile range onto
// the full scale, one shared mapping for all channels to preserve hue
func stretchContrast(data []byte) {
	var hist [256]int
	n := len(data) / 3
	if n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		r := int(data[i*3])
		g := int(data[i*3+1])
		b := int(data[i*3+2])
		hist[(77*r+150*g+29*b)>>8]++
	}

	loCount := n * 2 / 100
	hiCount := n * 98 / 100

	lo, hi := 0, 255
	cum := 0
	for v := 0; v < 256; v++ {
		cum += hist[v]
		if cum >= loCount {
			lo = v
			break
		}
	}
	cum = 0
	for v := 0; v < 256; v++ {
		cum += hist[v]
		if cum >= hiCount {
			hi = v
			break
		}
	}

	if hi <= lo {
		return
	}

	var lut [256]byte
	scale := 255.0 / float64(hi-lo)
	for v := 0; v < 256; v++ {
		stretched := float64(v-lo) * scale
		if stretched < 0 {
			stretched = 0
		}
		if stretched > 255 {
			stretched = 255
		}
		lut[v] = byte(stretched)
	}

	for i := range data {
		data[i] = lut[data[i]]
	}
}

// greyWorldBalance scales each channel so its mean matches the global
// mean, the classic grey-world assumption
func greyWorldBalance(data []byte) {
	n := len(data) / 3
	if n == 0 {
		return
	}

	var sums [3]uint64
	for i := 0; i < n; i++ {
		sums[0] += uint64(data[i*3])
		sums[1] += uint64(data[i*3+1])
		sums[2] += uint64(data[i*3+2])
	}

	means := [3]float64{}
	var gray float64
	for ch := 0; ch < 3; ch++ {
		means[ch] = float64(sums[ch]) / float64(n)
		gray += means[ch]
	}
	gray /= 3

	var scales [3]float64
	for ch := 0; ch < 3; ch++ {
		if means[ch] <= 0 {
			scales[ch] = 1
		} else {
			scales[ch] = gray / means[ch]
		}
	}

	for i := 0; i < n; i++ {
		for ch := 0; ch < 3; ch++ {
			v := float64(data[i*3+ch]) * scales[ch]
			if v > 255 {
				v = 255
			}
			data[i*3+ch] = byte(v)
		}
	}
}

// resizeRGB scales a raw RGB plane to size x size
func resizeRGB(data []byte, w, h, size int) []byte {
	if w == size && h == size {
		return data
	}

	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		src.Pix[i*4] = data[i*3]
		src.Pix[i*4+1] = data[i*3+1]
		src.Pix[i*4+2] = data[i*3+2]
		src.Pix[i*4+3] = 255
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := make([]byte, size*size*3)
	for i := 0; i < size*size; i++ {
		out[i*3] = dst.Pix[i*4]
		out[i*3+1] = dst.Pix[i*4+1]
		out[i*3+2] = dst.Pix[i*4+2]
	}
	return out
}
