package yuv

import "image"

// Gray returns the luma section of the buffer as an image. The pixels are
// shared with l.
func (l *Luminance) Gray() *image.Gray {
	n := l.Width * l.Height
	return &image.Gray{
		Pix:    l.Data[:n:n],
		Stride: l.Width,
		Rect:   image.Rect(0, 0, l.Width, l.Height),
	}
}

// YCbCr expands the buffer into a displayable 4:2:0 image. Gray buffers get
// neutral chroma.
func (l *Luminance) YCbCr() *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, l.Width, l.Height), image.YCbCrSubsampleRatio420)
	copy(img.Y, l.Data[:l.Width*l.Height])

	cw, ch := l.Width/2, l.Height/2
	for y := 0; y < (l.Height+1)/2; y++ {
		for x := 0; x < img.CStride; x++ {
			i := y*img.CStride + x
			if l.Layout == LayoutGray || x >= cw || y >= ch {
				img.Cb[i], img.Cr[i] = 128, 128
				continue
			}
			vu := l.Width*l.Height + 2*(y*cw+x)
			img.Cr[i] = l.Data[vu]
			img.Cb[i] = l.Data[vu+1]
		}
	}
	return img
}

// Image returns the buffer in its most faithful displayable form: the luma
// plane for gray buffers, a color image otherwise.
func (l *Luminance) Image() image.Image {
	if l.Layout == LayoutGray {
		return l.Gray()
	}
	return l.YCbCr()
}
