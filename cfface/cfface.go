// Package cfface holds the face and animation tables the server announces.
// Faces are identified by opaque numeric ids; only their name and pixel size
// matter here.
package cfface

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// TileSize is the pixel size of one map square.
	TileSize = 32
	// MaxFootprint bounds the number of squares a face may cover per axis.
	MaxFootprint = 8
)

// Face describes one face announced by the server. Id 0 means no face.
type Face struct {
	ID     int
	Name   string
	Width  int
	Height int
}

// Footprint returns how many map squares the face covers horizontally and
// vertically.
func (f Face) Footprint() (w, h int) {
	return squares(f.Width), squares(f.Height)
}

func squares(px int) int {
	n := (px + TileSize - 1) / TileSize
	if n < 1 {
		return 1
	}
	if n > MaxFootprint {
		return MaxFootprint
	}
	return n
}

// Option configures a Registry or Animations table.
type Option func(*options)

type options struct {
	log logrus.FieldLogger
}

// WithLogger sets the logger used for duplicate registration warnings.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{log: logrus.StandardLogger()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Registry maps face ids to their metadata.
type Registry struct {
	mu     sync.RWMutex
	faces  map[int]Face
	byName map[string]int
	log    logrus.FieldLogger
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	o := buildOptions(opts)
	return &Registry{
		faces:  make(map[int]Face),
		byName: make(map[string]int),
		log:    o.log,
	}
}

// Add registers f. A second registration of the same id replaces the first.
func (r *Registry) Add(f Face) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.faces[f.ID]; ok {
		r.log.WithFields(logrus.Fields{"face": f.ID, "old": old.Name, "new": f.Name}).
			Warn("cfface: duplicate face registration")
		if r.byName[old.Name] == f.ID {
			delete(r.byName, old.Name)
		}
	}
	r.faces[f.ID] = f
	if f.Name != "" {
		r.byName[f.Name] = f.ID
	}
}

// SetSize updates the pixel size of an already registered face, registering
// a nameless face when the id is new. The image usually arrives after the
// name.
func (r *Registry) SetSize(id, width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.faces[id]
	f.ID = id
	f.Width = width
	f.Height = height
	r.faces[id] = f
}

// SetName names face id, keeping any size already known.
func (r *Registry) SetName(id int, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.faces[id]
	if f.Name != "" && r.byName[f.Name] == id {
		delete(r.byName, f.Name)
	}
	f.ID = id
	f.Name = name
	r.faces[id] = f
	if name != "" {
		r.byName[name] = id
	}
}

// Lookup returns the face registered under id.
func (r *Registry) Lookup(id int) (Face, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.faces[id]
	return f, ok
}

// ByName returns the face registered under name.
func (r *Registry) ByName(name string) (Face, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return Face{}, false
	}
	return r.faces[id], true
}

// Footprint returns the footprint of face id. Unknown faces and id 0
// cover a single square.
func (r *Registry) Footprint(id int) (w, h int) {
	if id == 0 {
		return 1, 1
	}
	f, ok := r.Lookup(id)
	if !ok {
		return 1, 1
	}
	return f.Footprint()
}

// Len returns the number of registered faces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.faces)
}

// LoadIndex reads a face index. Each non-empty line holds
// "id name [WxH]"; lines starting with '#' are ignored. Faces without a
// size default to one tile.
func (r *Registry) LoadIndex(rd io.Reader) error {
	sc := bufio.NewScanner(rd)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fmt.Errorf("face index line %d: want id and name", lineNo)
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("face index line %d: bad id %q", lineNo, fields[0])
		}
		f := Face{ID: id, Name: fields[1], Width: TileSize, Height: TileSize}
		if len(fields) > 2 {
			w, h, err := parseSize(fields[2])
			if err != nil {
				return fmt.Errorf("face index line %d: %w", lineNo, err)
			}
			f.Width, f.Height = w, h
		}
		r.Add(f)
	}
	return sc.Err()
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("bad size %q", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("bad width %q", ws)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("bad height %q", hs)
	}
	return w, h, nil
}
