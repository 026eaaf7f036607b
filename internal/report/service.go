// Package report sends the doctor a summary of every finalized session.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/signintech/gopdf"

	"kairos-intake/internal/consultation"
)

// ErrNoFont means no usable TTF font was found for the PDF.
var ErrNoFont = errors.New("no report font available")

// Sender is the part of the Telegram client the report needs.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, data []byte, fileName, caption string) error
}

type Config struct {
	DoctorChatID int64
	// FontPath is tried before the usual DejaVu locations.
	FontPath string
}

var defaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

type Service struct {
	tg        Sender
	chatID    int64
	fontPaths []string
	logger    zerolog.Logger
}

// NewService returns a report service. A nil sender or a zero chat id
// disables it.
func NewService(tg Sender, cfg Config, logger zerolog.Logger) *Service {
	paths := defaultFontPaths
	if cfg.FontPath != "" {
		paths = append([]string{cfg.FontPath}, defaultFontPaths...)
	}
	return &Service{
		tg:        tg,
		chatID:    cfg.DoctorChatID,
		fontPaths: paths,
		logger:    logger.With().Str("component", "report").Logger(),
	}
}

func (s *Service) Enabled() bool { return s.tg != nil && s.chatID != 0 }

// SendSessionReport delivers the session as a PDF, or as plain text when no
// font is available.
func (s *Service) SendSessionReport(ctx context.Context, sum consultation.Summary) error {
	log := s.logger.With().Str("session_id", sum.SessionID).Logger()
	if !s.Enabled() {
		log.Debug().Msg("doctor report disabled")
		return nil
	}

	doc, err := s.Render(sum)
	if errors.Is(err, ErrNoFont) {
		log.Warn().Msg("no report font, sending text summary")
		if err := s.tg.SendMessage(ctx, s.chatID, Plain(sum)); err != nil {
			return fmt.Errorf("send text report: %w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	name := fmt.Sprintf("kairos_%s.pdf", sum.SessionID)
	caption := fmt.Sprintf("Consulta %s", sum.SessionID)
	if sum.Patient != nil {
		caption = fmt.Sprintf("Consulta de %s", sum.Patient.FullName)
	}
	if err := s.tg.SendDocument(ctx, s.chatID, doc, name, caption); err != nil {
		return fmt.Errorf("send pdf report: %w", err)
	}
	log.Info().Int("bytes", len(doc)).Msg("doctor report sent")
	return nil
}

const (
	fontName   = "DejaVu"
	pageBottom = 800.0
	textWidth  = 500.0
)

// Render lays the summary out as an A4 PDF.
func (s *Service) Render(sum consultation.Summary) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	loaded := false
	for _, path := range s.fontPaths {
		if err := pdf.AddTTFFont(fontName, path); err == nil {
			loaded = true
			break
		}
	}
	if !loaded {
		return nil, ErrNoFont
	}

	for _, ln := range lines(sum) {
		size, gap := 11, 14.0
		switch ln.kind {
		case lineTitle:
			size, gap = 18, 28
		case lineHeading:
			size, gap = 13, 18
			pdf.Br(6)
		}
		if err := pdf.SetFont(fontName, "", size); err != nil {
			return nil, fmt.Errorf("set report font: %w", err)
		}
		wrapped, err := pdf.SplitText(ln.text, textWidth)
		if err != nil {
			wrapped = []string{ln.text}
		}
		for _, w := range wrapped {
			if pdf.GetY() > pageBottom {
				pdf.AddPage()
			}
			if err := pdf.Cell(nil, w); err != nil {
				return nil, fmt.Errorf("write report line: %w", err)
			}
			pdf.Br(gap)
		}
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Plain renders the summary as a chat message.
func Plain(sum consultation.Summary) string {
	var b strings.Builder
	for _, ln := range lines(sum) {
		switch ln.kind {
		case lineTitle, lineHeading:
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(strings.ToUpper(ln.text))
		default:
			b.WriteString(ln.text)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

type lineKind int

const (
	lineText lineKind = iota
	lineTitle
	lineHeading
)

type line struct {
	kind lineKind
	text string
}

func lines(sum consultation.Summary) []line {
	out := []line{{lineTitle, "Kairos - Resumen de consulta"}}
	text := func(format string, args ...any) { out = append(out, line{lineText, fmt.Sprintf(format, args...)}) }
	heading := func(s string) { out = append(out, line{lineHeading, s}) }
	list := func(label string, values []string) {
		if len(values) > 0 {
			text("%s: %s", label, strings.Join(values, ", "))
		}
	}

	text("Sesión: %s", sum.SessionID)
	text("Fecha: %s", sum.EndedAt.Format("02/01/2006 15:04"))
	text("Evento: %s (%s, %s)", sum.Event, sum.Location, sum.Device)
	text("Duración: %s", sum.Duration.Round(time.Second))
	text("Intercambios: %d", sum.TurnCount)

	if p := sum.Patient; p != nil {
		heading("Paciente")
		text("Nombre: %s", p.FullName)
		text("Documento: %s", p.NationalID)
		if p.Age != nil {
			text("Edad: %d años", *p.Age)
		}
		text("Visitas: %d", p.VisitCount)
	}

	heading("Contexto clínico")
	for _, l := range strings.Split(strings.TrimSpace(sum.ContextSummary), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			text("%s", l)
		}
	}
	text("Completitud: %.0f%%", sum.Context.Completeness*100)

	if b := sum.Bundle; b != nil {
		heading("Orientación")
		text("Condición: %s", b.Condition)
		text("Confianza: %.0f%% (%s)", b.Confidence*100, b.Tier)
		list("Causas", b.Causes)
		list("Tratamiento", b.Treatment)
		list("Alimentos a aumentar", b.FoodsToIncrease)
		list("Alimentos a evitar", b.FoodsToAvoid)
		list("Hábitos", b.Habits)
		for _, it := range b.Items {
			text("Producto: %s - %s", it.Name, it.Dosage)
		}
		text("Mejora esperada: %s", b.ImprovementWindow)
		for _, w := range b.Warnings {
			text("Advertencia: %s", w)
		}
	}
	if sum.ErrorKind != "" {
		heading("Incidencia")
		text("Error %s en estado %s", sum.ErrorKind, sum.FailedState)
	}
	return out
}
