package thumbnail

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Generate_ShouldFitImageIntoBounds(t *testing.T) {
	// given
	src := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, imaging.Save(imaging.New(800, 400, color.NRGBA{R: 255, A: 255}), src))
	g, err := NewGenerator(t.TempDir(), 100, 100)
	require.NoError(t, err)

	// when
	target, err := g.Generate(src, "albums/photo.png")

	// then
	require.NoError(t, err)
	assert.Equal(t, g.PathFor("albums/photo.png"), target)
	thumb, err := imaging.Open(target)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 50), thumb.Bounds())
}

func TestGenerator_Generate_ShouldRejectNonImages(t *testing.T) {
	g, err := NewGenerator(t.TempDir(), 0, 0)
	require.NoError(t, err)

	_, err = g.Generate("/tmp/notes.txt", "notes.txt")

	assert.ErrorIs(t, err, ErrNotImage)
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("a.JPG"))
	assert.True(t, IsImage("dir/b.png"))
	assert.False(t, IsImage("video.mp4"))
	assert.False(t, IsImage("noext"))
}
