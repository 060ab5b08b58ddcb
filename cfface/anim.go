package cfface

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrEmptyAnimation is returned when an animation has no faces.
var ErrEmptyAnimation = errors.New("cfface: animation without faces")

// Animation is an ordered list of faces shown in turn.
type Animation struct {
	ID    int
	Flags int
	Faces []int
}

// Animations maps animation ids to their face sequences.
type Animations struct {
	mu    sync.RWMutex
	anims map[int]Animation
	log   logrus.FieldLogger
}

// NewAnimations returns an empty table.
func NewAnimations(opts ...Option) *Animations {
	o := buildOptions(opts)
	return &Animations{anims: make(map[int]Animation), log: o.log}
}

// Add registers an animation. Re-registering an id logs a warning and the
// later definition wins.
func (a *Animations) Add(id, flags int, faces []int) error {
	if len(faces) == 0 {
		return fmt.Errorf("animation %d: %w", id, ErrEmptyAnimation)
	}
	anim := Animation{ID: id, Flags: flags, Faces: append([]int(nil), faces...)}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.anims[id]; ok {
		a.log.WithField("animation", id).Warn("cfface: duplicate animation registration")
	}
	a.anims[id] = anim
	return nil
}

// Lookup returns a copy of animation id.
func (a *Animations) Lookup(id int) (Animation, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	anim, ok := a.anims[id]
	if !ok {
		return Animation{}, false
	}
	anim.Faces = append([]int(nil), anim.Faces...)
	return anim, true
}

// Len returns the number of animations.
func (a *Animations) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.anims)
}

// LoadAnimations reads the server's animations file. Every "anim <name>"
// block lists face names up to "mina"; blocks are numbered from 1 in file
// order. Face names are resolved through faces.
func (a *Animations) LoadAnimations(rd io.Reader, faces *Registry) error {
	sc := bufio.NewScanner(rd)
	var (
		lineNo int
		next   = 1
		name   string
		open   bool
		facing int
		list   []int
	)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "anim "):
			if open {
				return fmt.Errorf("animations line %d: anim %q not closed", lineNo, name)
			}
			name = strings.TrimSpace(strings.TrimPrefix(line, "anim "))
			open = true
			facing = 0
			list = list[:0]
		case line == "mina":
			if !open {
				return fmt.Errorf("animations line %d: mina without anim", lineNo)
			}
			if err := a.Add(next, facing, list); err != nil {
				return fmt.Errorf("animations line %d: %s: %w", lineNo, name, err)
			}
			next++
			open = false
		case strings.HasPrefix(line, "facings "):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "facings ")))
			if err != nil {
				return fmt.Errorf("animations line %d: bad facings: %w", lineNo, err)
			}
			facing = n
		default:
			if !open {
				return fmt.Errorf("animations line %d: face outside anim", lineNo)
			}
			f, ok := faces.ByName(line)
			if !ok {
				return fmt.Errorf("animations line %d: unknown face %q", lineNo, line)
			}
			list = append(list, f.ID)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if open {
		return fmt.Errorf("animations: anim %q not closed", name)
	}
	return nil
}
