package datasets

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
)

// Model input geometry. Frames of any other size are rescaled on read.
const (
	ImageHeight   = 160
	ImageWidth    = 320
	ImageChannels = 3
)

// Frame is a decoded RGB image with float32 pixels in [0, 255], stored
// row-major as [Height][Width][3].
type Frame struct {
	Height, Width int
	Pix           []float32
}

// NewFrame allocates a black frame.
func NewFrame(height, width int) *Frame {
	return &Frame{Height: height, Width: width, Pix: make([]float32, height*width*ImageChannels)}
}

func (f *Frame) offset(y, x int) int {
	return (y*f.Width + x) * ImageChannels
}

// At returns the channel value of pixel (y, x).
func (f *Frame) At(y, x, c int) float32 {
	return f.Pix[f.offset(y, x)+c]
}

// Set writes the channel value of pixel (y, x).
func (f *Frame) Set(y, x, c int, v float32) {
	f.Pix[f.offset(y, x)+c] = v
}

// FlipHorizontal returns the left-right mirror image; f is not modified.
func (f *Frame) FlipHorizontal() *Frame {
	out := NewFrame(f.Height, f.Width)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			src := f.offset(y, f.Width-1-x)
			copy(out.Pix[out.offset(y, x):out.offset(y, x)+ImageChannels], f.Pix[src:src+ImageChannels])
		}
	}
	return out
}

// ReadFrame decodes a JPEG or PNG file into a model sized frame.
func ReadFrame(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return FrameFromImage(img), nil
}

// FrameFromImage converts img to a ImageHeight x ImageWidth frame, scaling
// with bilinear interpolation when the size differs. Colors are kept
// non-premultiplied so translucent pixels are not darkened.
func FrameFromImage(img image.Image) *Frame {
	dst := image.NewNRGBA(image.Rect(0, 0, ImageWidth, ImageHeight))
	src := img.Bounds()
	if src.Dx() == ImageWidth && src.Dy() == ImageHeight {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	}

	f := NewFrame(ImageHeight, ImageWidth)
	for y := 0; y < ImageHeight; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+ImageWidth*4]
		for x := 0; x < ImageWidth; x++ {
			o := f.offset(y, x)
			f.Pix[o] = float32(row[x*4])
			f.Pix[o+1] = float32(row[x*4+1])
			f.Pix[o+2] = float32(row[x*4+2])
		}
	}
	return f
}
