package cmd

import (
	"fmt"
	"io"
)

const banner = `
  ___  ___  ___ ___(_) ___  _ __ | | _____  ___ _ __   ___ _ __
 / __|/ _ \/ __/ __| |/ _ \| '_ \| |/ / _ \/ _ \ '_ \ / _ \ '__|
 \__ \  __/\__ \__ \ | (_) | | | |   <  __/  __/ |_) |  __/ |
 |___/\___||___/___/_|\___/|_| |_|_|\_\___|\___| .__/ \___|_|
                                               |_|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Mock authentication backend - Version %s\x1b[0m\n\n", Version)
}
