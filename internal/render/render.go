// Package render draws Telegram messages as PNG cards: a rounded panel with
// the chat name and time, the author, reply and forward context, the wrapped
// text and a placeholder for attached media.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"github.com/edgard/tgmirror/internal/config"
)

// Options configures a Renderer.
type Options struct {
	Width        int
	MaxHeight    int
	FontFamily   string // "regular" or "mono"; ignored when FontFile is set
	FontFile     string // optional TTF/OTF file
	FontSize     float64
	Background   string // hex colours
	Text         string
	Accent       string
	Padding      int
	BorderRadius int
	OutputDir    string // optional directory keeping a copy of each render
}

// Card is the content of one rendered message.
type Card struct {
	ChatTitle     string
	Author        string
	Time          time.Time
	Text          string
	ReplyToID     int
	ForwardedFrom string
	MediaType     string
}

// Renderer draws cards. It is safe for concurrent use.
type Renderer struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex // font faces keep per-face glyph caches
	ruler   *gg.Context
	regular font.Face
	bold    font.Face
	small   font.Face

	background color.Color
	panel      color.Color
	text       color.Color
	muted      color.Color
	accent     color.Color
	quote      color.Color
}

// New parses fonts and colours and returns a ready Renderer.
func New(opts Options, logger *slog.Logger) (*Renderer, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Width <= 0 {
		return nil, fmt.Errorf("render width must be positive, got %d", opts.Width)
	}
	if opts.FontSize <= 0 {
		opts.FontSize = 14
	}

	bg, err := colorful.Hex(opts.Background)
	if err != nil {
		return nil, fmt.Errorf("invalid background colour %q: %w", opts.Background, err)
	}
	fg, err := colorful.Hex(opts.Text)
	if err != nil {
		return nil, fmt.Errorf("invalid text colour %q: %w", opts.Text, err)
	}
	accent, err := colorful.Hex(opts.Accent)
	if err != nil {
		return nil, fmt.Errorf("invalid accent colour %q: %w", opts.Accent, err)
	}

	regularTTF, boldTTF, err := fontData(opts)
	if err != nil {
		return nil, err
	}
	regular, err := newFace(regularTTF, opts.FontSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load regular font: %w", err)
	}
	bold, err := newFace(boldTTF, opts.FontSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load bold font: %w", err)
	}
	small, err := newFace(regularTTF, opts.FontSize*0.85)
	if err != nil {
		return nil, fmt.Errorf("failed to load small font: %w", err)
	}

	// The panel sits on a slightly darker shade of the background so the card
	// keeps an outline even with a white background.
	panel := bg
	outer := bg.BlendLab(colorful.Color{}, 0.06).Clamped()

	return &Renderer{
		opts:       opts,
		logger:     logger.With("component", "renderer"),
		ruler:      gg.NewContext(1, 1),
		regular:    regular,
		bold:       bold,
		small:      small,
		background: outer,
		panel:      panel,
		text:       fg,
		muted:      fg.BlendLab(bg, 0.45).Clamped(),
		accent:     accent,
		quote:      accent.BlendLab(bg, 0.88).Clamped(),
	}, nil
}

// NewFromConfig builds a Renderer from the mirror size limits and the render
// settings.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Renderer, error) {
	return New(Options{
		Width:        cfg.Mirror.MaxImageWidth,
		MaxHeight:    cfg.Mirror.MaxImageHeight,
		FontFamily:   cfg.Render.FontFamily,
		FontFile:     cfg.Render.FontFile,
		FontSize:     cfg.Render.FontSize,
		Background:   cfg.Render.BackgroundColor,
		Text:         cfg.Render.TextColor,
		Accent:       cfg.Render.AccentColor,
		Padding:      cfg.Render.Padding,
		BorderRadius: cfg.Render.BorderRadius,
		OutputDir:    cfg.Render.OutputDir,
	}, logger)
}

func fontData(opts Options) (regular, bold []byte, err error) {
	if opts.FontFile != "" {
		data, err := os.ReadFile(opts.FontFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read font file %s: %w", opts.FontFile, err)
		}
		return data, data, nil
	}
	if strings.Contains(strings.ToLower(opts.FontFamily), "mono") {
		return gomono.TTF, gomonobold.TTF, nil
	}
	return goregular.TTF, gobold.TTF, nil
}

func newFace(data []byte, size float64) (font.Face, error) {
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// MediaLabel names a media kind for the placeholder box.
func MediaLabel(mediaType string) string {
	switch mediaType {
	case "":
		return ""
	case "photo":
		return "Photo"
	case "video":
		return "Video"
	case "animation":
		return "GIF"
	case "document":
		return "Document"
	case "audio":
		return "Audio"
	case "voice":
		return "Voice message"
	case "video_note":
		return "Video message"
	case "sticker":
		return "Sticker"
	default:
		return "Media"
	}
}

// block is one vertical element of the card.
type block struct {
	kind  blockKind
	lines []string
}

type blockKind int

const (
	blockAuthor blockKind = iota
	blockForward
	blockReply
	blockText
	blockMedia
	blockEmpty
)

func lineHeight(face font.Face) float64 {
	return float64(face.Metrics().Height.Ceil() + 4)
}

// Render draws the card and returns PNG bytes.
func (r *Renderer) Render(card Card) ([]byte, error) {
	r.mu.Lock()
	dc := r.draw(card)
	r.mu.Unlock()

	if r.opts.MaxHeight > 0 && dc.Height() > r.opts.MaxHeight {
		scaled := resize.Resize(0, uint(r.opts.MaxHeight), dc.Image(), resize.Lanczos3)
		r.logger.Debug("Scaled card to maximum height",
			"from_height", dc.Height(), "to_height", r.opts.MaxHeight, "width", scaled.Bounds().Dx())
		dc = gg.NewContextForImage(scaled)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) draw(card Card) *gg.Context {
	pad := float64(r.opts.Padding)
	inner := max(12, pad*3/4)
	radius := float64(r.opts.BorderRadius)
	panelLeft, panelRight := pad, float64(r.opts.Width)-pad
	contentLeft := panelLeft + inner + 4 // 4px accent bar
	contentRight := panelRight - inner
	contentWidth := max(contentRight-contentLeft, 40)

	blocks := r.layout(card, contentWidth)

	regularLH := lineHeight(r.regular)
	smallLH := lineHeight(r.small)
	headerH := max(lineHeight(r.bold), smallLH) + 10

	height := pad + inner + headerH
	for _, b := range blocks {
		height += r.blockHeight(b, regularLH, smallLH) + 8
	}
	height += inner + pad

	dc := gg.NewContext(r.opts.Width, int(height))
	dc.SetColor(r.background)
	dc.Clear()

	panelH := height - 2*pad
	fillRounded(dc, panelLeft, pad, panelRight-panelLeft, panelH, radius, r.panel)
	fillRounded(dc, panelLeft, pad, 4, panelH, min(radius, 2), r.accent)

	y := pad + inner

	// Header: chat name on the left, HH:MM:SS on the right.
	timeText := ""
	if !card.Time.IsZero() {
		timeText = card.Time.Format("15:04:05")
	}
	r.ruler.SetFontFace(r.small)
	timeWidth, _ := r.ruler.MeasureString(timeText)
	title := card.ChatTitle
	if title == "" {
		title = "Unknown Chat"
	}
	title = fitLine(r.ruler, r.bold, title, contentWidth-timeWidth-12)
	drawLines(dc, r.bold, r.text, contentLeft, y, []string{title}, 0)
	drawLines(dc, r.small, r.muted, contentRight-timeWidth, y+2, []string{timeText}, 0)
	y += headerH - 6
	fillRounded(dc, contentLeft, y, contentRight-contentLeft, 1, 0, r.quote)
	y += 6

	for _, b := range blocks {
		h := r.blockHeight(b, regularLH, smallLH)
		switch b.kind {
		case blockAuthor:
			drawLines(dc, r.bold, r.accent, contentLeft, y, b.lines, regularLH)
		case blockForward, blockEmpty:
			drawLines(dc, r.small, r.muted, contentLeft, y, b.lines, smallLH)
		case blockReply:
			fillRounded(dc, contentLeft, y, contentWidth, h, 4, r.quote)
			fillRounded(dc, contentLeft, y, 3, h, 0, r.accent)
			drawLines(dc, r.small, r.muted, contentLeft+10, y+4, b.lines, smallLH)
		case blockText:
			drawLines(dc, r.regular, r.text, contentLeft, y, b.lines, regularLH)
		case blockMedia:
			fillRounded(dc, contentLeft, y, contentWidth, h, 6, r.quote)
			r.ruler.SetFontFace(r.bold)
			lw, _ := r.ruler.MeasureString(b.lines[0])
			drawLines(dc, r.bold, r.muted, contentLeft+(contentWidth-lw)/2, y+(h-regularLH)/2, b.lines, regularLH)
		}
		y += h + 8
	}

	return dc
}

func (r *Renderer) layout(card Card, width float64) []block {
	var blocks []block

	author := strings.TrimSpace(card.Author)
	if author == "" {
		author = "Unknown User"
	}
	blocks = append(blocks, block{kind: blockAuthor, lines: []string{fitLine(r.ruler, r.bold, author, width)}})

	if card.ForwardedFrom != "" {
		blocks = append(blocks, block{kind: blockForward, lines: wrapText(r.ruler, r.small, "Forwarded from "+card.ForwardedFrom, width)})
	}
	if card.ReplyToID != 0 {
		blocks = append(blocks, block{kind: blockReply, lines: []string{fmt.Sprintf("Reply to message #%d", card.ReplyToID)}})
	}
	if text := strings.TrimSpace(card.Text); text != "" {
		blocks = append(blocks, block{kind: blockText, lines: wrapText(r.ruler, r.regular, text, width)})
	}
	if label := MediaLabel(card.MediaType); label != "" {
		blocks = append(blocks, block{kind: blockMedia, lines: []string{label}})
	}
	if strings.TrimSpace(card.Text) == "" && card.MediaType == "" {
		blocks = append(blocks, block{kind: blockEmpty, lines: []string{"(empty message)"}})
	}
	return blocks
}

func (r *Renderer) blockHeight(b block, regularLH, smallLH float64) float64 {
	n := float64(len(b.lines))
	switch b.kind {
	case blockForward, blockEmpty:
		return n * smallLH
	case blockReply:
		return n*smallLH + 8
	case blockMedia:
		return regularLH * 3
	default:
		return n * regularLH
	}
}

func fillRounded(dc *gg.Context, x, y, w, h, radius float64, c color.Color) {
	dc.SetColor(c)
	if radius <= 0 {
		dc.DrawRectangle(x, y, w, h)
	} else {
		dc.DrawRoundedRectangle(x, y, w, h, min(radius, w/2, h/2))
	}
	dc.Fill()
}

// drawLines draws lines with the top of the first one at y.
func drawLines(dc *gg.Context, face font.Face, c color.Color, x, y float64, lines []string, lh float64) {
	dc.SetFontFace(face)
	dc.SetColor(c)
	ascent := float64(face.Metrics().Ascent.Ceil())
	for i, line := range lines {
		dc.DrawString(line, x, y+ascent+float64(i)*lh)
	}
}
