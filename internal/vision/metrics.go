package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/eleven-am/perception-backend/internal/calibration"
	"github.com/eleven-am/perception-backend/internal/shared"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	thumbSize    = 32
	hashSize     = 8
	histBins     = 16
	edgeContrast = 16
)

// FeatureVectorSize is the length of Features.Vector: a luminance histogram
// followed by the downscaled hash grid.
const FeatureVectorSize = histBins + hashSize*hashSize

var ErrUndecodable = errors.New("frame is not a decodable image")

// Thumbnail is a small grayscale rendition of a frame kept per stream for
// motion estimation.
type Thumbnail struct {
	Width  int
	Height int
	Pix    []uint8
}

type FrameAnalysis struct {
	Resolution Resolution
	Metrics    calibration.Metrics
	Features   *Features
	Thumbnail  *Thumbnail
}

// ExtractMetrics decodes data and computes lightweight scene metrics, an
// average hash and a feature vector. previous may be nil.
func ExtractMetrics(data []byte, previous *Thumbnail) (*FrameAnalysis, error) {
	if len(data) == 0 {
		return nil, ErrUndecodable
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return AnalyzeImage(img, previous), nil
}

func AnalyzeImage(img image.Image, previous *Thumbnail) *FrameAnalysis {
	b := img.Bounds()
	thumb := grayscale(img, thumbSize, thumbSize)

	brightness, contrast := meanStd(thumb.Pix)
	edges, sharpness := gradients(thumb)

	motion := 0.0
	if previous != nil && len(previous.Pix) == len(thumb.Pix) {
		var sum float64
		for i := range thumb.Pix {
			sum += math.Abs(float64(thumb.Pix[i]) - float64(previous.Pix[i]))
		}
		motion = shared.Clamp01(4 * sum / float64(len(thumb.Pix)) / 255)
	}

	metrics := calibration.Metrics{
		Brightness: shared.Clamp01(brightness / 255),
		Motion:     motion,
		Complexity: edges,
		Clarity:    shared.Clamp01(0.5*shared.Clamp01(contrast/64) + 0.5*shared.Clamp01(sharpness/32)),
		Stability:  1 - motion,
	}

	return &FrameAnalysis{
		Resolution: Resolution{Width: b.Dx(), Height: b.Dy()},
		Metrics:    metrics,
		Features:   features(thumb),
		Thumbnail:  &Thumbnail{Width: thumbSize, Height: thumbSize, Pix: thumb.Pix},
	}
}

func grayscale(src image.Image, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

func meanStd(pix []uint8) (mean, std float64) {
	if len(pix) == 0 {
		return 0, 0
	}
	for _, p := range pix {
		mean += float64(p)
	}
	mean /= float64(len(pix))
	for _, p := range pix {
		d := float64(p) - mean
		std += d * d
	}
	return mean, math.Sqrt(std / float64(len(pix)))
}

// gradients returns the fraction of neighbour pairs differing by more than
// edgeContrast levels and the mean absolute gradient.
func gradients(g *image.Gray) (edgeDensity, meanGradient float64) {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	var edges, pairs int
	var total float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := int(g.Pix[y*g.Stride+x])
			if x+1 < w {
				d := abs(p - int(g.Pix[y*g.Stride+x+1]))
				total += float64(d)
				pairs++
				if d > edgeContrast {
					edges++
				}
			}
			if y+1 < h {
				d := abs(p - int(g.Pix[(y+1)*g.Stride+x]))
				total += float64(d)
				pairs++
				if d > edgeContrast {
					edges++
				}
			}
		}
	}
	if pairs == 0 {
		return 0, 0
	}
	return float64(edges) / float64(pairs), total / float64(pairs)
}

// features builds the 64-bit average hash and a vector made of a normalized
// luminance histogram followed by the 8x8 downscaled pixels.
func features(thumb *image.Gray) *Features {
	small := grayscale(thumb, hashSize, hashSize)
	mean, _ := meanStd(small.Pix)

	var hash uint64
	vector := make([]float32, 0, histBins+hashSize*hashSize)

	hist := make([]float32, histBins)
	for _, p := range thumb.Pix {
		hist[int(p)*histBins/256]++
	}
	for _, c := range hist {
		vector = append(vector, c/float32(len(thumb.Pix)))
	}
	for i, p := range small.Pix {
		if float64(p) > mean {
			hash |= 1 << uint(i)
		}
		vector = append(vector, float32(p)/255)
	}
	return &Features{PerceptualHash: hash, Vector: vector}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

const (
	textSaturationChars = 200
	objectSaturation    = 10
)

// EnrichMetrics folds a completed analysis into base. Only tasks the provider
// completed contribute; objects below minConfidence are ignored.
func EnrichMetrics(base calibration.Metrics, r *AnalysisResult, minConfidence float64) calibration.Metrics {
	if r == nil {
		return base
	}
	out := base
	for _, t := range r.CompletedTasks {
		switch t {
		case TaskReadText:
			out.TextScore = shared.Clamp01(float64(len([]rune(r.Text))) / textSaturationChars)
		case TaskDetectFaces:
			if r.FaceCount > 0 {
				out.FaceScore = shared.Clamp01(0.5 + 0.25*float64(r.FaceCount))
			} else {
				out.FaceScore = 0
			}
		case TaskDetectObjects:
			n := 0
			for _, o := range r.Objects {
				if o.Confidence >= minConfidence {
					n++
				}
			}
			out.Complexity = math.Max(base.Complexity, shared.Clamp01(float64(n)/objectSaturation))
		}
	}
	return out
}
