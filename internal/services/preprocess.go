package services

import (
	"context"
	"image"
	"runtime"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// CLIP ViT-B/32 input geometry and normalisation constants.
const clipImageSize = 224

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

const pixelsPerImage = 3 * clipImageSize * clipImageSize

// preprocessImage decodes path, resizes the short side to 224 with a
// bicubic filter, centre crops and writes normalised CHW floats into dst.
func preprocessImage(path string, dst []float32) error {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return &UnreadableImageError{Path: path, Err: err}
	}
	writeCHW(imaging.Fill(img, clipImageSize, clipImageSize, imaging.Center, imaging.CatmullRom), dst)
	return nil
}

func writeCHW(img *image.NRGBA, dst []float32) {
	const plane = clipImageSize * clipImageSize
	for y := 0; y < clipImageSize; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < clipImageSize; x++ {
			px := row[x*4 : x*4+3]
			i := y*clipImageSize + x
			for c := 0; c < 3; c++ {
				dst[c*plane+i] = (float32(px[c])/255 - clipMean[c]) / clipStd[c]
			}
		}
	}
}

// preprocessBatch decodes paths in parallel into one [n,3,224,224] buffer.
// When several files fail, the error for the earliest path is returned.
func preprocessBatch(ctx context.Context, paths []string) ([]float32, error) {
	pixels := make([]float32, len(paths)*pixelsPerImage)
	errs := make([]error, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			errs[i] = preprocessImage(path, pixels[i*pixelsPerImage:(i+1)*pixelsPerImage])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return pixels, nil
}
