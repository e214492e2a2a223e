package main

import (
	"strings"

	"github.com/skip2/go-qrcode"
)

// terminalQR renders code as block characters, two columns per module so
// the result is roughly square in a terminal.
func terminalQR(code string) (string, error) {
	q, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, row := range q.Bitmap() {
		for _, dark := range row {
			if dark {
				b.WriteString("██")
			} else {
				b.WriteString("  ")
			}
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func writePNG(path, code string) error {
	return qrcode.WriteFile(code, qrcode.Medium, 256, path)
}
