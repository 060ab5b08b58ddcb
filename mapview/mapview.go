// Package mapview draws the map grid as text, either as a dump or on a
// terminal screen that follows session changes.
package mapview

import (
	"bufio"
	"io"
	"unicode"

	"cfclient/cfmap"
	"cfclient/cfupdate"

	"github.com/gdamore/tcell/v2"
)

// Glyphs used for squares without a face.
const (
	GlyphDark    = '#'
	GlyphEmpty   = '.'
	GlyphUnknown = ' '
	GlyphMagic   = '*'
)

// GlyphFunc maps a face to the rune shown for it.
type GlyphFunc func(face int) rune

// DefaultGlyph gives every face a stable upper-case letter.
func DefaultGlyph(face int) rune { return rune('A' + face%26) }

// kind classifies a square for drawing.
type kind int

const (
	kindFace kind = iota
	kindFog
	kindDark
	kindMagic
	kindEmpty
	kindUnknown
)

// cell returns the rune for (x,y) and how it should be styled.
func cell(r cfmap.Reader, x, y int, glyph GlyphFunc) (rune, kind) {
	fog := r.IsFogOfWar(x, y)
	if !fog && r.Darkness(x, y) == 0 {
		return GlyphDark, kindDark
	}
	for layer := cfmap.Layers - 1; layer >= 0; layer-- {
		if f := r.Face(x, y, layer); f != 0 {
			g := glyph(f)
			if fog {
				return unicode.ToLower(g), kindFog
			}
			return g, kindFace
		}
	}
	switch {
	case r.MagicMap(x, y) != 0:
		return GlyphMagic, kindMagic
	case fog:
		return GlyphUnknown, kindUnknown
	}
	return GlyphEmpty, kindEmpty
}

// Render writes the viewport as one line per row.
func Render(r cfmap.Reader, w io.Writer, glyph GlyphFunc) error {
	if glyph == nil {
		glyph = DefaultGlyph
	}
	bw := bufio.NewWriter(w)
	for y := 0; y < r.Height(); y++ {
		for x := 0; x < r.Width(); x++ {
			g, _ := cell(r, x, y, glyph)
			bw.WriteRune(g)
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

var styles = map[kind]tcell.Style{
	kindFace:    tcell.StyleDefault.Foreground(tcell.ColorWhite),
	kindFog:     tcell.StyleDefault.Foreground(tcell.ColorGray).Dim(true),
	kindDark:    tcell.StyleDefault.Foreground(tcell.ColorDarkGray),
	kindMagic:   tcell.StyleDefault.Foreground(tcell.ColorBlue),
	kindEmpty:   tcell.StyleDefault.Foreground(tcell.ColorGreen),
	kindUnknown: tcell.StyleDefault,
}

// Screen mirrors a map grid on a terminal screen.
type Screen struct {
	screen tcell.Screen
	grid   *cfmap.Map
	glyph  GlyphFunc

	// Offset of the viewport on the screen.
	X, Y int
}

// NewScreen returns a Screen drawing grid on s. s must be initialized.
func NewScreen(s tcell.Screen, grid *cfmap.Map, glyph GlyphFunc) *Screen {
	if glyph == nil {
		glyph = DefaultGlyph
	}
	return &Screen{screen: s, grid: grid, glyph: glyph}
}

// Update redraws the squares in c. It is meant to be registered as a
// session listener.
func (s *Screen) Update(c cfupdate.Change) {
	s.grid.View(func(r cfmap.Reader) {
		if c.All {
			s.redraw(r)
			return
		}
		for _, p := range c.Squares {
			s.draw(r, p.X, p.Y)
		}
	})
	s.screen.Show()
}

// Redraw paints the whole viewport.
func (s *Screen) Redraw() {
	s.grid.View(s.redraw)
	s.screen.Show()
}

func (s *Screen) redraw(r cfmap.Reader) {
	s.screen.Clear()
	for y := 0; y < r.Height(); y++ {
		for x := 0; x < r.Width(); x++ {
			s.draw(r, x, y)
		}
	}
}

func (s *Screen) draw(r cfmap.Reader, x, y int) {
	if !r.InView(x, y) {
		return
	}
	g, k := cell(r, x, y, s.glyph)
	s.screen.SetContent(s.X+x, s.Y+y, g, nil, styles[k])
}
