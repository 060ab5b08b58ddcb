package main

import (
	"context"
	"fmt"

	"cfclient/mapview"

	"github.com/gdamore/tcell/v2"
)

// startView shows c's map on the terminal. Pressing q or Escape calls
// cancel; other keys go to keys when it is not nil. The returned function
// restores the terminal.
func startView(c *client, cancel context.CancelFunc, keys func(*tcell.EventKey)) (func(), error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("open terminal: %w", err)
	}
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("init terminal: %w", err)
	}
	return attachView(screen, c, cancel, keys), nil
}

func attachView(screen tcell.Screen, c *client, cancel context.CancelFunc, keys func(*tcell.EventKey)) func() {
	screen.SetStyle(tcell.StyleDefault)
	screen.Clear()

	view := mapview.NewScreen(screen, c.grid, nil)
	view.X, view.Y = 1, 1
	c.sess.AddListener(view.Update)
	view.Redraw()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			ev := screen.PollEvent()
			switch ev := ev.(type) {
			case nil:
				return
			case *tcell.EventResize:
				screen.Sync()
				view.Redraw()
			case *tcell.EventKey:
				switch {
				case ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q':
					cancel()
				case keys != nil:
					keys(ev)
				}
			}
		}
	}()
	return func() {
		screen.Fini()
		<-done
	}
}
