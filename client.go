package main

import (
	"fmt"
	"os"

	"cfclient/cfanim"
	"cfclient/cfface"
	"cfclient/cfmap"
	"cfclient/cfproto"
	"cfclient/cfupdate"

	"github.com/sirupsen/logrus"
)

// client bundles the state of one server stream, live or replayed.
type client struct {
	name  string
	faces *cfface.Registry
	anims *cfface.Animations
	grid  *cfmap.Map
	sess  *cfupdate.Session
	dec   *cfproto.Decoder

	changes int
}

func newClient(name string, opts ...cfproto.Option) (*client, error) {
	l := log.WithField("stream", name)
	c := &client{
		name:  name,
		faces: cfface.NewRegistry(cfface.WithLogger(l)),
		anims: cfface.NewAnimations(cfface.WithLogger(l)),
	}
	if err := loadIndexes(c.faces, c.anims); err != nil {
		return nil, err
	}
	c.grid = cfmap.New(c.faces)
	tracker := cfanim.New(c.anims, cfanim.WithLogger(l))
	c.sess = cfupdate.New(c.grid, tracker,
		cfupdate.WithLogger(l),
		cfupdate.WithWarnRate(float64(max(gs.WarnRate, 1)), max(gs.WarnRate, 1)))
	c.sess.AddListener(func(cfupdate.Change) { c.changes++ })

	opts = append([]cfproto.Option{
		cfproto.WithLogger(l),
		cfproto.WithMapSize(gs.MapWidth, gs.MapHeight),
	}, opts...)
	c.dec = cfproto.NewDecoder(c.sess, c.faces, c.anims, opts...)
	c.sess.NewMap(gs.MapWidth, gs.MapHeight)
	return c, nil
}

// loadIndexes preloads face and animation definitions so that recordings
// made with a warm face cache still resolve sizes.
func loadIndexes(faces *cfface.Registry, anims *cfface.Animations) error {
	if gs.FaceIndex != "" {
		f, err := os.Open(gs.FaceIndex)
		if err != nil {
			return fmt.Errorf("face index: %w", err)
		}
		defer f.Close()
		if err := faces.LoadIndex(f); err != nil {
			return fmt.Errorf("face index %s: %w", gs.FaceIndex, err)
		}
	}
	if gs.AnimIndex != "" {
		f, err := os.Open(gs.AnimIndex)
		if err != nil {
			return fmt.Errorf("animation index: %w", err)
		}
		defer f.Close()
		if err := anims.LoadAnimations(f, faces); err != nil {
			return fmt.Errorf("animation index %s: %w", gs.AnimIndex, err)
		}
	}
	return nil
}

func (c *client) logStats() {
	st := c.sess.Stats()
	ds := c.dec.Stats()
	log.WithFields(logrus.Fields{
		"stream":        c.name,
		"messages":      ds.Messages,
		"malformed":     ds.Malformed,
		"transactions":  st.Transactions,
		"notifications": st.Notifications,
		"ticks":         st.Ticks,
		"dropped":       st.Dropped,
	}).Debug("stream stats")
}
