package cmd

import (
	"fmt"
	"io"

	"github.com/common-nighthawk/go-figure"
)

func printBanner(w io.Writer) {
	fig := figure.NewFigure("bearer", "cybermedium", true)
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m\n", fig.String())
	fmt.Fprintf(w, "\x1b[32m  Session Dev API - Version %s\x1b[0m\n\n", Version)
}
