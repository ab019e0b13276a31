// Package media generates thumbnails and storyboards from extracted frames.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/kozaktomas/video-tagger/internal/frames"
)

// ThumbnailFromFrame loads a frame image and resizes it to fit within
// maxSize (width or height) while keeping aspect ratio, encoded as JPEG.
func ThumbnailFromFrame(framePath string, maxSize int) ([]byte, error) {
	data, err := os.ReadFile(framePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return resizeImage(data, maxSize)
}

func resizeImage(data []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxSize && height <= maxSize {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		return buf.Bytes(), nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

// StoryboardTile maps one storyboard cell back to its video timestamp.
type StoryboardTile struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"`
}

// Storyboard is a grid sprite of video frames plus a tile index.
type Storyboard struct {
	Image      []byte           `json:"-"`
	Columns    int              `json:"columns"`
	Rows       int              `json:"rows"`
	TileWidth  int              `json:"tile_width"`
	TileHeight int              `json:"tile_height"`
	Tiles      []StoryboardTile `json:"tiles"`
}

// ComposeStoryboard renders the frames into a grid sprite with the given
// column count, each tile scaled to tileWidth. Frames that fail to decode
// leave their cell blank.
func ComposeStoryboard(frameList []frames.Frame, columns, tileWidth int) (*Storyboard, error) {
	if len(frameList) == 0 {
		return nil, fmt.Errorf("no frames to compose")
	}
	if columns <= 0 {
		columns = 5
	}

	// The first decodable frame fixes the tile aspect ratio.
	tileHeight := 0
	for i := range frameList {
		if img := decodeFrame(frameList[i].Path); img != nil {
			b := img.Bounds()
			tileHeight = b.Dy() * tileWidth / b.Dx()
			break
		}
	}
	if tileHeight == 0 {
		return nil, fmt.Errorf("no decodable frames")
	}

	rows := (len(frameList) + columns - 1) / columns
	sprite := image.NewRGBA(image.Rect(0, 0, columns*tileWidth, rows*tileHeight))

	board := &Storyboard{
		Columns:    columns,
		Rows:       rows,
		TileWidth:  tileWidth,
		TileHeight: tileHeight,
		Tiles:      make([]StoryboardTile, 0, len(frameList)),
	}

	for i := range frameList {
		img := decodeFrame(frameList[i].Path)
		if img == nil {
			continue
		}
		col := i % columns
		row := i / columns
		cell := image.Rect(
			col*tileWidth, row*tileHeight,
			(col+1)*tileWidth, (row+1)*tileHeight,
		)
		draw.CatmullRom.Scale(sprite, cell, img, img.Bounds(), draw.Over, nil)
		board.Tiles = append(board.Tiles, StoryboardTile{
			Index:     i,
			Timestamp: frameList[i].Timestamp,
		})
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, sprite, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode storyboard: %w", err)
	}
	board.Image = buf.Bytes()
	return board, nil
}

func decodeFrame(path string) image.Image {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return img
}
