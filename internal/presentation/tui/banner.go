package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the patchbay banner to w.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{`                 _       _     _                 `, "#34d399"},
		{` _ __   __ _ | |_  ___ | |__ | |__   __ _  _   _ `, "#2dd4bf"},
		{`| '_ \ / _' || __|/ __|| '_ \| '_ \ / _' || | | |`, "#22d3ee"},
		{`| |_) | (_| || |_| (__ | | | | |_) | (_| || |_| |`, "#38bdf8"},
		{`| .__/ \__,_| \__|\___||_| |_|_.__/ \__,_| \__, |`, "#60a5fa"},
		{`|_|                                         |___/ `, "#818cf8"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}
