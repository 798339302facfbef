// Package qr presents pairing codes in the terminal.
package qr

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const linkBase = "https://api.qrserver.com/v1/create-qr-code/?data="

// Presenter prints pairing challenges for the user to scan.
type Presenter struct {
	out    io.Writer
	link   bool
	logger *slog.Logger
}

type Config struct {
	Out    io.Writer
	Link   bool // also print a qrserver.com image link
	Logger *slog.Logger
}

func NewPresenter(cfg Config) *Presenter {
	return &Presenter{out: cfg.Out, link: cfg.Link, logger: cfg.Logger}
}

// Present renders payload to the terminal. A rendering failure is logged
// and the link, if enabled, is still printed.
func (p *Presenter) Present(payload string) {
	fmt.Fprintln(p.out, "Scan this QR code with WhatsApp (Settings > Linked devices):")
	art, err := Render(payload)
	if err != nil {
		p.logger.Error("qr render failed", "err", err)
	} else {
		fmt.Fprint(p.out, art)
	}
	if p.link {
		fmt.Fprintln(p.out, "Or open:", Link(payload))
	}
}

// Render draws payload with half-block characters, two modules per line.
// Light modules are drawn so the code reads correctly on dark terminals.
func Render(payload string) (string, error) {
	code, err := qrcode.New(payload, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	bitmap := code.Bitmap()

	var b strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := !bitmap[y][x]
			bottom := y+1 < len(bitmap) && !bitmap[y+1][x]
			switch {
			case top && bottom:
				b.WriteRune('█')
			case top:
				b.WriteRune('▀')
			case bottom:
				b.WriteRune('▄')
			default:
				b.WriteRune(' ')
			}
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// Link returns an api.qrserver.com URL that renders payload as an image.
func Link(payload string) string {
	return linkBase + url.QueryEscape(payload)
}
