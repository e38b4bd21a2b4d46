//go:build gocv
// +build gocv

package preprocess

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/v12510/GlassesVisionSystem/internal/types"
)

// enhance runs the full OpenCV chain: non-local-means denoise, CLAHE on
// the Lab lightness channel, grey-world white balance, resize.
func (c *Chain) enhance(f types.Frame) ([]byte, error) {
	src, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return nil, fmt.Errorf("mat from frame: %w", err)
	}
	defer src.Close()

	working := src
	if c.opts.DenoiseStrength > 0 {
		denoised := gocv.NewMat()
		defer denoised.Close()
		strength := float32(c.opts.DenoiseStrength)
		gocv.FastNlMeansDenoisingColoredWithParams(src, &denoised, strength, strength, 7, 21)
		working = denoised
	}

	enhanced, err := c.applyCLAHE(working)
	if err != nil {
		return nil, err
	}
	defer enhanced.Close()

	balanced, err := greyWorldBalance(enhanced)
	if err != nil {
		return nil, err
	}
	defer balanced.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	target := image.Pt(c.opts.TargetSize, c.opts.TargetSize)
	gocv.Resize(balanced, &resized, target, 0, 0, gocv.InterpolationLinear)

	out, err := resized.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("mat to bytes: %w", err)
	}
	return out, nil
}

// applyCLAHE equalizes local contrast on the Lab lightness channel,
// leaving chroma untouched
func (c *Chain) applyCLAHE(src gocv.Mat) (gocv.Mat, error) {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(src, &lab, gocv.ColorRGBToLab)

	channels := gocv.Split(lab)
	for i := range channels {
		defer channels[i].Close()
	}
	if len(channels) < 3 {
		return gocv.NewMat(), fmt.Errorf("lab split returned %d channels", len(channels))
	}

	clahe := gocv.NewCLAHEWithParams(c.opts.CLAHEClip, image.Pt(8, 8))
	defer clahe.Close()

	lightness := gocv.NewMat()
	defer lightness.Close()
	clahe.Apply(channels[0], &lightness)

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge([]gocv.Mat{lightness, channels[1], channels[2]}, &merged)

	out := gocv.NewMat()
	gocv.CvtColor(merged, &out, gocv.ColorLabToRGB)
	return out, nil
}

// greyWorldBalance scales each channel so its mean matches the global
// mean
func greyWorldBalance(src gocv.Mat) (gocv.Mat, error) {
	channels := gocv.Split(src)
	for i := range channels {
		defer channels[i].Close()
	}
	if len(channels) < 3 {
		return gocv.NewMat(), fmt.Errorf("rgb split returned %d channels", len(channels))
	}

	means := [3]float64{
		channels[0].Mean().Val1,
		channels[1].Mean().Val1,
		channels[2].Mean().Val1,
	}
	gray := (means[0] + means[1] + means[2]) / 3

	for ch := 0; ch < 3; ch++ {
		if means[ch] > 0 {
			channels[ch].MultiplyFloat(float32(gray / means[ch]))
		}
	}

	out := gocv.NewMat()
	gocv.Merge(channels, &out)
	return out, nil
}
